package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure HistoryStore implements the interface.
var _ driven.HistoryStore = (*HistoryStore)(nil)

// HistoryStore is an in-memory implementation of driven.HistoryStore.
type HistoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.HistoryRecord
	now     func() time.Time
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		records: make(map[string]domain.HistoryRecord),
		now:     time.Now,
	}
}

// Insert adds a ledger row.
func (s *HistoryStore) Insert(_ context.Context, rec *domain.HistoryRecord) error {
	if rec == nil || rec.SessionID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.SessionID]; ok {
		return fmt.Errorf("%w: session %s already recorded", domain.ErrInvalidInput, rec.SessionID)
	}
	r := *rec
	r.UpdatedAt = s.now()
	s.records[r.SessionID] = r
	return nil
}

// Update writes the given fields of a row.
func (s *HistoryStore) Update(_ context.Context, sessionID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		if err := applyField(&rec, k, v); err != nil {
			return err
		}
	}
	rec.UpdatedAt = s.now()
	s.records[sessionID] = rec
	return nil
}

// Get returns a row by session id.
func (s *HistoryStore) Get(_ context.Context, sessionID string) (*domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// Recent returns rows newest first.
func (s *HistoryStore) Recent(_ context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error) {
	rows := s.matching(q)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// Running returns the newest running row of a scope.
func (s *HistoryStore) Running(_ context.Context, scope string) (*domain.HistoryRecord, error) {
	for _, r := range s.matching(domain.HistoryQuery{Scope: scope}) {
		if r.Status == domain.StatusRunning {
			return &r, nil
		}
	}
	return nil, nil
}

// Stats aggregates matching rows.
func (s *HistoryStore) Stats(_ context.Context, q domain.HistoryQuery) (domain.HistoryStats, error) {
	var stats domain.HistoryStats
	var total time.Duration
	var finished int
	for _, r := range s.matching(q) {
		stats.Total++
		stats.Records.Processed += r.Processed
		stats.Records.Created += r.Created
		stats.Records.Updated += r.Updated
		stats.Records.Failed += r.Failed
		switch r.Status {
		case domain.StatusRunning, domain.StatusSyncingStock:
			stats.Running++
		case domain.StatusPaused:
			stats.Paused++
		case domain.StatusCompleted:
			stats.Completed++
			if r.CompletedAt.After(stats.LastCompleted) {
				stats.LastCompleted = r.CompletedAt
			}
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusStopped:
			stats.Stopped++
		}
		if r.Status.IsTerminal() {
			total += r.Duration
			finished++
		}
	}
	if finished > 0 {
		stats.AverageDuration = total / time.Duration(finished)
	}
	return stats, nil
}

// Prune keeps the newest keep rows.
func (s *HistoryStore) Prune(_ context.Context, keep int) (int, error) {
	rows := s.matching(domain.HistoryQuery{AllScopes: true})
	if len(rows) <= keep {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows[keep:] {
		delete(s.records, r.SessionID)
	}
	return len(rows) - keep, nil
}

// matching returns rows of the query's scope, newest first.
func (s *HistoryStore) matching(q domain.HistoryQuery) []domain.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryRecord, 0, len(s.records))
	for _, r := range s.records {
		if q.AllScopes || r.Scope == q.Scope {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func applyField(rec *domain.HistoryRecord, key string, value any) error {
	bad := func() error {
		return fmt.Errorf("%w: field %s has type %T", domain.ErrInvalidInput, key, value)
	}
	switch key {
	case domain.FieldStatus:
		v, ok := value.(domain.SessionStatus)
		if !ok {
			return bad()
		}
		rec.Status = v
	case domain.FieldCompletedAt:
		v, ok := value.(time.Time)
		if !ok {
			return bad()
		}
		rec.CompletedAt = v
	case domain.FieldDurationMS:
		v, ok := value.(int64)
		if !ok {
			return bad()
		}
		rec.Duration = time.Duration(v) * time.Millisecond
	case domain.FieldProcessed, domain.FieldCreated, domain.FieldUpdated, domain.FieldFailed, domain.FieldErrors:
		v, ok := value.(int)
		if !ok {
			return bad()
		}
		switch key {
		case domain.FieldProcessed:
			rec.Processed = v
		case domain.FieldCreated:
			rec.Created = v
		case domain.FieldUpdated:
			rec.Updated = v
		case domain.FieldFailed:
			rec.Failed = v
		default:
			rec.Errors = v
		}
	default:
		return fmt.Errorf("%w: field %s is not writable", domain.ErrInvalidInput, key)
	}
	return nil
}
