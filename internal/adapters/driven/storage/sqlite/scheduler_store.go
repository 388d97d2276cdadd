package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// schedulerStore keeps the recurring sync of every scope and the
// sessions those syncs launched.
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

const taskColumns = `id, name, scope, interval_seconds, last_run, next_run, last_error, last_success, enabled`

const resultColumns = `task_id, scope, session_id, started_at, ended_at, success, error, outcome, processed`

// GetTask returns nil and no error when the task does not exist.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, taskID)

	task, err := scanScheduledTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// ListTasks returns every task ordered by id.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.ScheduledTask //nolint:prealloc // size unknown from query
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scheduled tasks: %w", err)
	}
	return tasks, nil
}

// SaveTask upserts a task by id.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scope = excluded.scope,
			interval_seconds = excluded.interval_seconds,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			last_error = excluded.last_error,
			last_success = excluded.last_success,
			enabled = excluded.enabled
	`, task.ID, task.Name, task.Scope, int64(task.Interval.Seconds()),
		formatNullableTime(task.LastRun), formatNullableTime(task.NextRun),
		nullString(task.LastError), formatNullableTime(task.LastSuccess),
		boolToInt(task.Enabled))
	if err != nil {
		return fmt.Errorf("saving scheduled task: %w", err)
	}
	return nil
}

// DeleteTask removes a task. Its results stay until pruned.
func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("deleting scheduled task: %w", err)
	}
	return nil
}

// RecordResult appends the result of one launch.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil || result.TaskID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx,
		`INSERT INTO task_results (`+resultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID,
		result.Scope,
		nullString(result.SessionID),
		formatTime(result.StartedAt),
		formatTime(result.EndedAt),
		boolToInt(result.Success),
		nullString(result.Error),
		string(result.Outcome),
		result.Processed)
	if err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

// PendingResults returns launches whose session is still open in the ledger.
func (s *schedulerStore) PendingResults(ctx context.Context) ([]domain.TaskResult, error) {
	return s.queryResults(ctx, `
		SELECT `+resultColumns+` FROM task_results
		WHERE outcome = ? AND session_id IS NOT NULL
		ORDER BY started_at, id
	`, string(domain.StatusRunning))
}

// SettleResult closes the pending result of a session.
func (s *schedulerStore) SettleResult(
	ctx context.Context,
	sessionID string,
	outcome domain.SessionStatus,
	processed int,
) error {
	if sessionID == "" || !outcome.IsTerminal() {
		return domain.ErrInvalidInput
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE task_results SET outcome = ?, processed = ?
		WHERE session_id = ? AND outcome = ?
	`, string(outcome), processed, sessionID, string(domain.StatusRunning))
	if err != nil {
		return fmt.Errorf("settling task result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settling task result: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ScopeResults returns the newest launches of a scope first.
func (s *schedulerStore) ScopeResults(ctx context.Context, scope string, limit int) ([]domain.TaskResult, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + resultColumns + ` FROM task_results WHERE scope = ? ORDER BY started_at DESC, id DESC`)
	args := []any{scope}
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}
	return s.queryResults(ctx, q.String(), args...)
}

// PruneHistory keeps the newest keep settled results of each task.
// Pending results are never pruned so their sessions can still settle.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM task_results
		WHERE outcome != ? AND id NOT IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rn
				FROM task_results
			) WHERE rn <= ?
		)
	`, string(domain.StatusRunning), keep)
	if err != nil {
		return fmt.Errorf("pruning task history: %w", err)
	}
	return nil
}

func (s *schedulerStore) queryResults(ctx context.Context, query string, args ...any) ([]domain.TaskResult, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying task results: %w", err)
	}
	defer rows.Close()

	var results []domain.TaskResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		result, err := scanTaskResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task results: %w", err)
	}
	return results, nil
}

// scanScheduledTask scans a row selected with taskColumns.
// A missing row surfaces as sql.ErrNoRows.
func scanScheduledTask(row rowScanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var intervalSeconds int64
	var lastRun, nextRun, lastError, lastSuccess sql.NullString
	var enabled int

	if err := row.Scan(&task.ID, &task.Name, &task.Scope, &intervalSeconds,
		&lastRun, &nextRun, &lastError, &lastSuccess, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning scheduled task: %w", err)
	}

	task.Interval = time.Duration(intervalSeconds) * time.Second
	task.LastRun = parseNullableTime(lastRun)
	task.NextRun = parseNullableTime(nextRun)
	task.LastError = lastError.String
	task.LastSuccess = parseNullableTime(lastSuccess)
	task.Enabled = enabled == 1
	return &task, nil
}

// scanTaskResult scans a row selected with resultColumns.
func scanTaskResult(row rowScanner) (*domain.TaskResult, error) {
	var result domain.TaskResult
	var startedAt, endedAt, outcome string
	var success int
	var sessionID, errMsg sql.NullString

	if err := row.Scan(&result.TaskID, &result.Scope, &sessionID, &startedAt, &endedAt,
		&success, &errMsg, &outcome, &result.Processed); err != nil {
		return nil, fmt.Errorf("scanning task result: %w", err)
	}

	result.SessionID = sessionID.String
	result.StartedAt = parseTime(startedAt)
	result.EndedAt = parseTime(endedAt)
	result.Success = success == 1
	result.Error = errMsg.String
	result.Outcome = domain.SessionStatus(outcome)
	return &result, nil
}
