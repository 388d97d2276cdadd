package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// DefaultVisibilityTimeout is how long a claimed task stays hidden before it
// can be claimed again.
const DefaultVisibilityTimeout = 10 * time.Minute

// TaskQueue is a durable queue backed by the task_queue table.
// Claims run in IMMEDIATE transactions so concurrent workers never receive
// the same task within one visibility window.
type TaskQueue struct {
	store      *Store
	visibility time.Duration
}

var (
	_ driven.TaskQueue  = (*TaskQueue)(nil)
	_ driven.TaskSource = (*TaskQueue)(nil)
)

func newTaskQueue(s *Store, visibility time.Duration) *TaskQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &TaskQueue{store: s, visibility: visibility}
}

// Schedule enqueues a task.
func (q *TaskQueue) Schedule(ctx context.Context, task domain.Task, notBefore time.Time) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	_, err = q.store.db.ExecContext(ctx,
		"INSERT INTO task_queue (id, scope, payload, not_before, attempts) VALUES (?, ?, ?, ?, 0)",
		uuid.New().String(), task.Scope, string(payload), notBefore.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	return nil
}

// Claim returns the earliest due task and hides it for the visibility timeout.
func (q *TaskQueue) Claim(ctx context.Context, now time.Time) (*domain.QueuedTask, error) {
	var claimed *domain.QueuedTask
	err := q.store.inTx(ctx, func(tx *sql.Tx) error {
		var id, payload string
		var notBefore int64
		var attempts int
		err := tx.QueryRowContext(ctx, `
			SELECT id, payload, not_before, attempts FROM task_queue
			WHERE not_before <= ?
			ORDER BY not_before, seq
			LIMIT 1
		`, now.UnixMilli()).Scan(&id, &payload, &notBefore, &attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("selecting task: %w", err)
		}

		var task domain.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			return fmt.Errorf("decoding task %s: %w", id, err)
		}

		attempts++
		if _, err := tx.ExecContext(ctx,
			"UPDATE task_queue SET not_before = ?, attempts = ? WHERE id = ?",
			now.Add(q.visibility).UnixMilli(), attempts, id); err != nil {
			return fmt.Errorf("claiming task %s: %w", id, err)
		}

		claimed = &domain.QueuedTask{
			ID:        id,
			Task:      task,
			NotBefore: time.UnixMilli(notBefore),
			Attempts:  attempts,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Ack removes a claimed task.
func (q *TaskQueue) Ack(ctx context.Context, id string) error {
	if _, err := q.store.db.ExecContext(ctx, "DELETE FROM task_queue WHERE id = ?", id); err != nil {
		return fmt.Errorf("acking task %s: %w", id, err)
	}
	return nil
}

// Pending counts the queued tasks of a scope.
func (q *TaskQueue) Pending(ctx context.Context, scope string) (int, error) {
	var n int
	if err := q.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_queue WHERE scope = ?", scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return n, nil
}

// Purge removes every task of a scope.
func (q *TaskQueue) Purge(ctx context.Context, scope string) (int, error) {
	res, err := q.store.db.ExecContext(ctx, "DELETE FROM task_queue WHERE scope = ?", scope)
	if err != nil {
		return 0, fmt.Errorf("purging tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging tasks: %w", err)
	}
	return int(n), nil
}
