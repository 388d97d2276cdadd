package driving

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// Scheduler starts recurring incremental syncs for enabled profiles.
type Scheduler interface {
	// Start runs the schedule loop.
	// Blocks until context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Reload re-reads profiles and updates their tasks.
	Reload(ctx context.Context) error

	// Runs returns the latest scheduled launches of a scope, newest first,
	// with the outcome of every session that has ended.
	Runs(ctx context.Context, scope string, limit int) ([]domain.TaskResult, error)

	Stop() error
}

// Worker drains the task queue and runs ticks.
type Worker interface {
	// Run polls until context is cancelled or Stop is called.
	Run(ctx context.Context) error

	// RunOnce processes every task due now and returns how many ran.
	RunOnce(ctx context.Context) (int, error)

	Stop() error
}
