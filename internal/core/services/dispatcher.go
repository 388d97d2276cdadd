package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Dispatcher turns the step returned by a tick into at most one queue submission.
type Dispatcher struct {
	queue driven.TaskQueue
	now   func() time.Time
}

// NewDispatcher creates a dispatcher over a queue.
func NewDispatcher(queue driven.TaskQueue) *Dispatcher {
	return &Dispatcher{queue: queue, now: time.Now}
}

// Apply schedules the successor of task described by step.
// Terminal, suspending and no-op steps schedule nothing.
func (d *Dispatcher) Apply(ctx context.Context, task domain.Task, step domain.Step) error {
	switch s := step.(type) {
	case domain.ScheduleTick:
		next := task
		next.Kind = domain.TaskTick
		next.Page = s.Page
		next.Offset = s.Offset
		return d.schedule(ctx, next, s.Delay)
	case domain.ScheduleStock:
		next := task
		next.Kind = domain.TaskStock
		next.Page = 0
		next.Offset = 0
		return d.schedule(ctx, next, s.Delay)
	case domain.Finalize, domain.Suspend, domain.NoOp:
		return nil
	default:
		return fmt.Errorf("%w: unknown step %T", domain.ErrInvalidInput, step)
	}
}

func (d *Dispatcher) schedule(ctx context.Context, task domain.Task, delay time.Duration) error {
	if err := d.queue.Schedule(ctx, task, d.now().Add(delay)); err != nil {
		return fmt.Errorf("schedule %s task: %w", task.Kind, err)
	}
	return nil
}
