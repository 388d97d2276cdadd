package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// SessionLauncher starts, resumes and controls sync sessions.
type SessionLauncher interface {
	// Start launches a full session and returns its id.
	// Fails with *domain.SessionInProgressError when the scope is held by a running session.
	Start(ctx context.Context, limit int, scope string) (string, error)

	// StartIncremental launches an incremental session. A nil since resolves
	// to the scope's watermark; without one a full session is started.
	StartIncremental(ctx context.Context, since *time.Time, scope string) (string, error)

	// Resume continues a paused session. A partly processed page is not repeated;
	// a page the session paused before fetching is.
	Resume(ctx context.Context, scope string) (string, error)

	// Pause asks the running session to pause at its next tick.
	Pause(ctx context.Context, scope string) (string, error)

	// Stop asks the running session to stop at its next tick.
	// A paused session is stopped immediately.
	Stop(ctx context.Context, scope string) (string, error)

	// ForceClear deletes the scope's lease, status and pending ticks.
	ForceClear(ctx context.Context, scope string) error

	// ReleaseLease drops the scope's lease regardless of owner.
	ReleaseLease(ctx context.Context, scope string) error

	IsRunning(ctx context.Context, scope string) (bool, error)
	IsPaused(ctx context.Context, scope string) (bool, error)

	// RunningSessionID returns an empty string when nothing is running.
	RunningSessionID(ctx context.Context, scope string) (string, error)

	// Status returns the live state of a scope.
	Status(ctx context.Context, scope string) (*SyncStatus, error)
}

// SyncStatus represents the live state of a scope.
type SyncStatus struct {
	Scope string

	// Session is the latest status record, nil if the scope never synced.
	Session *domain.Session

	// Lease is the current lease, nil when none is held.
	Lease *domain.Lease

	Running bool
	Paused  bool

	// PendingTasks is the number of queued ticks for the scope.
	PendingTasks int

	// LastSync is the watermark of the last completed session.
	LastSync time.Time
}

// BatchProcessor is the tick entry point invoked by the queue worker.
// Neither method returns an error: every failure is handled inside the
// state machine and reflected in the returned step.
type BatchProcessor interface {
	ProcessTick(ctx context.Context, task domain.Task) domain.Step
	ProcessStockPhase(ctx context.Context, task domain.Task) domain.Step
}
