package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure TaskQueue implements both queue interfaces.
var (
	_ driven.TaskQueue  = (*TaskQueue)(nil)
	_ driven.TaskSource = (*TaskQueue)(nil)
)

// DefaultVisibilityTimeout is how long a claimed task stays hidden before
// it is delivered again.
const DefaultVisibilityTimeout = 10 * time.Minute

// TaskQueue is an in-memory delayed task queue.
type TaskQueue struct {
	mu         sync.Mutex
	tasks      map[string]*domain.QueuedTask
	seq        map[string]int64
	next       int64
	visibility time.Duration
}

// NewTaskQueue creates an empty queue. A non-positive visibility uses
// DefaultVisibilityTimeout.
func NewTaskQueue(visibility time.Duration) *TaskQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &TaskQueue{
		tasks:      make(map[string]*domain.QueuedTask),
		seq:        make(map[string]int64),
		visibility: visibility,
	}
}

// Schedule enqueues a task to run at or after notBefore.
func (q *TaskQueue) Schedule(_ context.Context, task domain.Task, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	q.tasks[id] = &domain.QueuedTask{ID: id, Task: task, NotBefore: notBefore}
	q.next++
	q.seq[id] = q.next
	return nil
}

// Claim returns the earliest due task and hides it for the visibility timeout.
func (q *TaskQueue) Claim(_ context.Context, now time.Time) (*domain.QueuedTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due *domain.QueuedTask
	for _, t := range q.tasks {
		if t.NotBefore.After(now) {
			continue
		}
		if due == nil || t.NotBefore.Before(due.NotBefore) ||
			(t.NotBefore.Equal(due.NotBefore) && q.seq[t.ID] < q.seq[due.ID]) {
			due = t
		}
	}
	if due == nil {
		return nil, nil
	}
	due.Attempts++
	claimed := *due
	due.NotBefore = now.Add(q.visibility)
	return &claimed, nil
}

// Ack removes a claimed task. Unknown ids are ignored.
func (q *TaskQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.tasks, id)
	delete(q.seq, id)
	return nil
}

// Pending counts queued tasks of a scope.
func (q *TaskQueue) Pending(_ context.Context, scope string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Task.Scope == scope {
			n++
		}
	}
	return n, nil
}

// Purge removes every queued task of a scope.
func (q *TaskQueue) Purge(_ context.Context, scope string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, t := range q.tasks {
		if t.Task.Scope == scope {
			delete(q.tasks, id)
			delete(q.seq, id)
			n++
		}
	}
	return n, nil
}

// Tasks returns a snapshot of every queued task ordered by due time.
func (q *TaskQueue) Tasks() []domain.QueuedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueuedTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NotBefore.Equal(out[j].NotBefore) {
			return q.seq[out[i].ID] < q.seq[out[j].ID]
		}
		return out[i].NotBefore.Before(out[j].NotBefore)
	})
	return out
}
