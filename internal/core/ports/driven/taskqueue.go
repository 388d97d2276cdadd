package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// TaskQueue is the durable queue the core submits ticks to.
// Delivery is at least once and not strictly ordered.
type TaskQueue interface {
	// Schedule enqueues a task to run at or after notBefore.
	Schedule(ctx context.Context, task domain.Task, notBefore time.Time) error

	// Purge removes every pending task of a scope and returns how many were removed.
	Purge(ctx context.Context, scope string) (int, error)
}

// TaskSource is the worker side of the queue.
type TaskSource interface {
	// Claim returns the earliest task due at now, or nil when none is due.
	// A claimed task that is not acknowledged becomes claimable again
	// after the queue's visibility timeout.
	Claim(ctx context.Context, now time.Time) (*domain.QueuedTask, error)

	// Ack removes a claimed task.
	Ack(ctx context.Context, id string) error

	// Pending returns the number of queued tasks of a scope.
	Pending(ctx context.Context, scope string) (int, error)
}
