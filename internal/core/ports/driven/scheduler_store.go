package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// SchedulerStore keeps recurring sync tasks and their run results
// so the schedule survives restarts.
type SchedulerStore interface {
	// GetTask returns nil and no error when the task does not exist.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)

	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask creates or replaces a task by ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error

	DeleteTask(ctx context.Context, taskID string) error

	// RecordResult appends a run result.
	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// PendingResults returns every result whose session has not settled,
	// oldest first.
	PendingResults(ctx context.Context) ([]domain.TaskResult, error)

	// SettleResult stores the final outcome and processed count of the
	// session a run launched. Returns domain.ErrNotFound when no pending
	// result has that session id.
	SettleResult(ctx context.Context, sessionID string, outcome domain.SessionStatus, processed int) error

	// ScopeResults returns the latest results of a scope, newest first.
	// A limit of zero or less returns every result.
	ScopeResults(ctx context.Context, scope string, limit int) ([]domain.TaskResult, error)

	// PruneHistory keeps the newest keep results of each task.
	PruneHistory(ctx context.Context, keep int) error
}
