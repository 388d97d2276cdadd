package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure SchedulerStore implements the interface.
var _ driven.SchedulerStore = (*SchedulerStore)(nil)

// SchedulerStore is an in-memory implementation of driven.SchedulerStore.
type SchedulerStore struct {
	mu      sync.RWMutex
	tasks   map[string]domain.ScheduledTask
	results []domain.TaskResult
}

// NewSchedulerStore creates a new in-memory scheduler store.
func NewSchedulerStore() *SchedulerStore {
	return &SchedulerStore{
		tasks: make(map[string]domain.ScheduledTask),
	}
}

// GetTask returns a task or nil when it does not exist.
func (s *SchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListTasks returns every task ordered by ID.
func (s *SchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveTask creates or replaces a task.
func (s *SchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *task
	return nil
}

// DeleteTask removes a task.
func (s *SchedulerStore) DeleteTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

// RecordResult appends a task result.
func (s *SchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	if result == nil || result.TaskID == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *result)
	return nil
}

// PendingResults returns unsettled results in launch order.
func (s *SchedulerStore) PendingResults(_ context.Context) ([]domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TaskResult
	for i := range s.results {
		if s.results[i].Pending() {
			out = append(out, s.results[i])
		}
	}
	return out, nil
}

// SettleResult records how the session of a pending result ended.
func (s *SchedulerStore) SettleResult(_ context.Context, sessionID string, outcome domain.SessionStatus, processed int) error {
	if sessionID == "" || !outcome.IsTerminal() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for i := range s.results {
		r := &s.results[i]
		if r.SessionID == sessionID && r.Pending() {
			r.Outcome = outcome
			r.Processed = processed
			found = true
		}
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

// ScopeResults returns the newest results of a scope.
func (s *SchedulerStore) ScopeResults(_ context.Context, scope string, limit int) ([]domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TaskResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].Scope != scope {
			continue
		}
		out = append(out, s.results[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// PruneHistory keeps the newest keep settled results of each task.
// Pending results always stay.
func (s *SchedulerStore) PruneHistory(_ context.Context, keep int) error {
	if keep < 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]int)
	kept := make([]domain.TaskResult, 0, len(s.results))
	for i := len(s.results) - 1; i >= 0; i-- {
		r := s.results[i]
		seen[r.TaskID]++
		if seen[r.TaskID] <= keep || r.Pending() {
			kept = append(kept, r)
		}
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	s.results = kept
	return nil
}
