package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// historyStore implements driven.HistoryStore.
type historyStore struct {
	store *Store
}

var _ driven.HistoryStore = (*historyStore)(nil)

// historyColumns maps writable ledger fields to columns. Column names never
// come from caller input.
var historyColumns = map[string]string{
	domain.FieldStatus:      "status",
	domain.FieldProcessed:   "processed",
	domain.FieldCreated:     "created",
	domain.FieldUpdated:     "updated",
	domain.FieldFailed:      "failed",
	domain.FieldCompletedAt: "completed_at",
	domain.FieldDurationMS:  "duration_ms",
	domain.FieldErrors:      "errors",
}

const historySelect = `
	SELECT session_id, scope, type, status, processed, created, updated, failed, errors,
	       started_at, completed_at, duration_ms, updated_at
	FROM sync_history
`

// Insert adds a ledger row.
func (s *historyStore) Insert(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec == nil || rec.SessionID == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_history (session_id, scope, type, status, processed, created, updated, failed,
			errors, started_at, completed_at, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Scope, string(rec.Type), string(rec.Status),
		rec.Processed, rec.Created, rec.Updated, rec.Failed, rec.Errors,
		formatTime(rec.StartedAt), formatNullableTime(rec.CompletedAt),
		rec.Duration.Milliseconds(), formatTime(s.store.now()))
	if err != nil {
		return fmt.Errorf("inserting history row: %w", err)
	}
	return nil
}

// Update writes the given fields of a row.
func (s *historyStore) Update(ctx context.Context, sessionID string, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		column, ok := historyColumns[k]
		if !ok {
			return fmt.Errorf("%w: field %s is not writable", domain.ErrInvalidInput, k)
		}
		arg, err := historyArg(k, fields[k])
		if err != nil {
			return err
		}
		sets = append(sets, column+" = ?")
		args = append(args, arg)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.store.now()), sessionID)

	//nolint:gosec // columns come from historyColumns
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE sync_history SET "+strings.Join(sets, ", ")+" WHERE session_id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating history row: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns a row by session id.
func (s *historyStore) Get(ctx context.Context, sessionID string) (*domain.HistoryRecord, error) {
	row := s.store.db.QueryRowContext(ctx, historySelect+" WHERE session_id = ?", sessionID)
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// Recent returns rows newest first.
func (s *historyStore) Recent(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error) {
	where, args := historyWhere(q)
	query := historySelect + where + " ORDER BY started_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return out, nil
}

// Running returns the newest running row of a scope.
func (s *historyStore) Running(ctx context.Context, scope string) (*domain.HistoryRecord, error) {
	row := s.store.db.QueryRowContext(ctx,
		historySelect+" WHERE scope = ? AND status = ? ORDER BY started_at DESC LIMIT 1",
		scope, string(domain.StatusRunning))
	rec, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Stats aggregates matching rows.
func (s *historyStore) Stats(ctx context.Context, q domain.HistoryQuery) (domain.HistoryStats, error) {
	where, args := historyWhere(q)
	args = append([]any{
		string(domain.StatusRunning), string(domain.StatusSyncingStock),
		string(domain.StatusPaused),
		string(domain.StatusCompleted),
		string(domain.StatusFailed),
		string(domain.StatusStopped),
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusStopped),
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusStopped),
		string(domain.StatusCompleted),
	}, args...)

	var stats domain.HistoryStats
	var terminalMS, terminal int64
	var lastCompleted sql.NullString
	err := s.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(status IN (?, ?)), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(status = ?), 0),
		       COALESCE(SUM(processed), 0),
		       COALESCE(SUM(created), 0),
		       COALESCE(SUM(updated), 0),
		       COALESCE(SUM(failed), 0),
		       COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN duration_ms ELSE 0 END), 0),
		       COALESCE(SUM(status IN (?, ?, ?)), 0),
		       MAX(CASE WHEN status = ? THEN completed_at END)
		FROM sync_history`+where, args...).Scan(
		&stats.Total, &stats.Running, &stats.Paused, &stats.Completed, &stats.Failed, &stats.Stopped,
		&stats.Records.Processed, &stats.Records.Created, &stats.Records.Updated, &stats.Records.Failed,
		&terminalMS, &terminal, &lastCompleted,
	)
	if err != nil {
		return stats, fmt.Errorf("aggregating history: %w", err)
	}
	if terminal > 0 {
		stats.AverageDuration = time.Duration(terminalMS/terminal) * time.Millisecond
	}
	stats.LastCompleted = parseNullableTime(lastCompleted)
	return stats, nil
}

// Prune keeps the newest keep rows.
func (s *historyStore) Prune(ctx context.Context, keep int) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_history
		WHERE session_id NOT IN (
			SELECT session_id FROM sync_history ORDER BY started_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	return int(n), nil
}

// ==================== Helper Functions ====================

func historyWhere(q domain.HistoryQuery) (string, []any) {
	if q.AllScopes {
		return "", nil
	}
	return " WHERE scope = ?", []any{q.Scope}
}

// historyArg converts a field value to its column representation.
func historyArg(field string, value any) (any, error) {
	bad := fmt.Errorf("%w: field %s has type %T", domain.ErrInvalidInput, field, value)
	switch field {
	case domain.FieldStatus:
		v, ok := value.(domain.SessionStatus)
		if !ok {
			return nil, bad
		}
		return string(v), nil
	case domain.FieldCompletedAt:
		v, ok := value.(time.Time)
		if !ok {
			return nil, bad
		}
		return formatNullableTime(v), nil
	case domain.FieldDurationMS:
		v, ok := value.(int64)
		if !ok {
			return nil, bad
		}
		return v, nil
	default:
		v, ok := value.(int)
		if !ok {
			return nil, bad
		}
		return v, nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*domain.HistoryRecord, error) {
	var rec domain.HistoryRecord
	var typ, status, startedAt, updatedAt string
	var completedAt sql.NullString
	var durationMS int64

	if err := row.Scan(&rec.SessionID, &rec.Scope, &typ, &status,
		&rec.Processed, &rec.Created, &rec.Updated, &rec.Failed, &rec.Errors,
		&startedAt, &completedAt, &durationMS, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning history row: %w", err)
	}

	rec.Type = domain.SessionType(typ)
	rec.Status = domain.SessionStatus(status)
	rec.StartedAt = parseTime(startedAt)
	rec.CompletedAt = parseNullableTime(completedAt)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.UpdatedAt = parseTime(updatedAt)
	return &rec, nil
}
