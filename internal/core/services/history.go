package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure HistoryLedger implements the interface.
var _ driving.HistoryService = (*HistoryLedger)(nil)

// HistoryLedger records one row per sync session.
//
// A ledger without a store is unprovisioned: writes are skipped and reads
// return domain.ErrLedgerUnavailable. Sync sessions never fail because of
// the ledger.
type HistoryLedger struct {
	store driven.HistoryStore
	now   func() time.Time
}

// NewHistoryLedger creates a ledger. store may be nil.
func NewHistoryLedger(store driven.HistoryStore) *HistoryLedger {
	return &HistoryLedger{store: store, now: time.Now}
}

// Available reports whether the ledger has a backing store.
func (l *HistoryLedger) Available() bool {
	return l != nil && l.store != nil
}

// Create inserts a running row for a session. It returns false when the
// ledger is unprovisioned or the insert fails.
func (l *HistoryLedger) Create(ctx context.Context, sessionID string, typ domain.SessionType, scope string) bool {
	if !l.Available() {
		return false
	}
	err := l.store.Insert(ctx, &domain.HistoryRecord{
		SessionID: sessionID,
		Scope:     scope,
		Type:      typ,
		Status:    domain.StatusRunning,
		StartedAt: l.now(),
	})
	if err != nil {
		if !errors.Is(err, domain.ErrLedgerUnavailable) {
			logger.ForSession(sessionID, scope).Warn("history row not created", "error", err)
		}
		return false
	}
	return true
}

// Update writes the allow-listed fields of a row. Other keys are dropped.
func (l *HistoryLedger) Update(ctx context.Context, sessionID string, fields map[string]any) error {
	if !l.Available() {
		return nil
	}
	allowed := make(map[string]any, len(fields))
	for k, v := range fields {
		if !domain.IsHistoryField(k) {
			logger.Debug("history: dropping field %q for session %s", k, sessionID)
			continue
		}
		allowed[k] = v
	}
	if len(allowed) == 0 {
		return nil
	}
	if err := l.store.Update(ctx, sessionID, allowed); err != nil {
		return fmt.Errorf("update history %s: %w", sessionID, err)
	}
	return nil
}

// Progress writes a session's counters.
func (l *HistoryLedger) Progress(ctx context.Context, sess *domain.Session) error {
	return l.Update(ctx, sess.ID, counterFields(sess))
}

// Complete marks a session completed.
func (l *HistoryLedger) Complete(ctx context.Context, sess *domain.Session) error {
	return l.transition(ctx, sess, domain.StatusCompleted, true)
}

// Fail marks a session failed.
func (l *HistoryLedger) Fail(ctx context.Context, sess *domain.Session) error {
	return l.transition(ctx, sess, domain.StatusFailed, true)
}

// Stop marks a session stopped.
func (l *HistoryLedger) Stop(ctx context.Context, sess *domain.Session) error {
	return l.transition(ctx, sess, domain.StatusStopped, true)
}

// Pause marks a session paused. The duration so far is recorded.
func (l *HistoryLedger) Pause(ctx context.Context, sess *domain.Session) error {
	return l.transition(ctx, sess, domain.StatusPaused, false)
}

// Resume marks a paused session running again.
func (l *HistoryLedger) Resume(ctx context.Context, sess *domain.Session) error {
	return l.transition(ctx, sess, domain.StatusRunning, false)
}

// MarkAbandoned fails a running row whose session no longer exists.
func (l *HistoryLedger) MarkAbandoned(ctx context.Context, rec *domain.HistoryRecord) error {
	sess := &domain.Session{ID: rec.SessionID, Scope: rec.Scope, Counters: rec.Counters, ErrorCount: rec.Errors}
	return l.transition(ctx, sess, domain.StatusFailed, true)
}

// transition writes a status change, computing the elapsed duration from the
// stored start time.
func (l *HistoryLedger) transition(
	ctx context.Context,
	sess *domain.Session,
	status domain.SessionStatus,
	terminal bool,
) error {
	if !l.Available() {
		return nil
	}
	rec, err := l.store.Get(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("load history %s: %w", sess.ID, err)
	}

	now := l.now()
	fields := counterFields(sess)
	fields[domain.FieldStatus] = status
	fields[domain.FieldDurationMS] = now.Sub(rec.StartedAt).Milliseconds()
	if terminal {
		fields[domain.FieldCompletedAt] = now
	}
	return l.Update(ctx, sess.ID, fields)
}

// HasRunningSession reports whether the ledger holds a running row for the scope.
func (l *HistoryLedger) HasRunningSession(ctx context.Context, scope string) (bool, error) {
	id, err := l.RunningSessionID(ctx, scope)
	return id != "", err
}

// RunningSessionID returns the id of the scope's running row, or "".
func (l *HistoryLedger) RunningSessionID(ctx context.Context, scope string) (string, error) {
	rec, err := l.RunningRecord(ctx, scope)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.SessionID, nil
}

// RunningRecord returns the scope's running row, or nil.
func (l *HistoryLedger) RunningRecord(ctx context.Context, scope string) (*domain.HistoryRecord, error) {
	if !l.Available() {
		return nil, nil
	}
	return l.store.Running(ctx, scope)
}

// Record returns the row of a session.
func (l *HistoryLedger) Record(ctx context.Context, sessionID string) (*domain.HistoryRecord, error) {
	if !l.Available() {
		return nil, domain.ErrLedgerUnavailable
	}
	return l.store.Get(ctx, sessionID)
}

// Recent returns the latest rows, newest first.
func (l *HistoryLedger) Recent(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error) {
	if !l.Available() {
		return nil, domain.ErrLedgerUnavailable
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	return l.store.Recent(ctx, q)
}

// Stats aggregates rows.
func (l *HistoryLedger) Stats(ctx context.Context, q domain.HistoryQuery) (domain.HistoryStats, error) {
	if !l.Available() {
		return domain.HistoryStats{}, domain.ErrLedgerUnavailable
	}
	return l.store.Stats(ctx, q)
}

// Cleanup keeps the most recent keep rows by start time.
func (l *HistoryLedger) Cleanup(ctx context.Context, keep int) (int, error) {
	if !l.Available() {
		return 0, domain.ErrLedgerUnavailable
	}
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must not be negative", domain.ErrInvalidInput)
	}
	return l.store.Prune(ctx, keep)
}

func counterFields(sess *domain.Session) map[string]any {
	return map[string]any{
		domain.FieldProcessed: sess.Processed,
		domain.FieldCreated:   sess.Created,
		domain.FieldUpdated:   sess.Updated,
		domain.FieldFailed:    sess.Failed,
		domain.FieldErrors:    sess.ErrorCount,
	}
}
