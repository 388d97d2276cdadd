package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler starts a recurring incremental sync for every enabled profile.
// It only launches sessions; the ticks themselves run on the queue worker.
// Each launch is recorded as a pending result that is settled from the
// history ledger once the session ends.
type Scheduler struct {
	config   domain.SchedulerConfig
	store    driven.SchedulerStore
	profiles driven.ProfileStore
	launcher driving.SessionLauncher
	ledger   *HistoryLedger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
// Without a provisioned ledger launches stay pending.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	profiles driven.ProfileStore,
	launcher driving.SessionLauncher,
	ledger *HistoryLedger,
) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.HistoryKeep <= 0 {
		config.HistoryKeep = 100
	}
	return &Scheduler{
		config:   config,
		store:    store,
		profiles: profiles,
		launcher: launcher,
		ledger:   ledger,
		now:      time.Now,
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if err := s.Reload(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for launches in flight
	s.wg.Wait()

	return nil
}

// Reload ensures every profile has a task matching its settings.
// Tasks of profiles that were removed are disabled.
func (s *Scheduler) Reload(ctx context.Context) error {
	profiles, err := s.profiles.List(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}

	seen := make(map[string]bool, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		id := domain.SyncTaskID(p.ID)
		seen[id] = true
		enabled := p.Enabled && p.Interval > 0
		if err := s.ensureTask(ctx, id, p.ID, "Catalog sync ("+profileLabel(p)+")", p.Interval, enabled); err != nil {
			return err
		}
	}

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		task := &tasks[i]
		if _, ok := domain.ScopeFromTaskID(task.ID); !ok || seen[task.ID] || !task.Enabled {
			continue
		}
		task.Enabled = false
		if err := s.store.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("disable task %s: %w", task.ID, err)
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, scope, name string, interval time.Duration, enabled bool) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Scope:    scope,
			Interval: interval,
			Enabled:  enabled,
			NextRun:  s.now().Add(interval),
		}
	} else {
		if task.Interval != interval {
			task.Interval = interval
			task.NextRun = s.now().Add(interval)
		}
		task.Name = name
		task.Scope = scope
		task.Enabled = enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// Runs returns the latest scheduled launches of a scope, newest first.
// Launches whose session has ended are settled before reading.
func (s *Scheduler) Runs(ctx context.Context, scope string, limit int) ([]domain.TaskResult, error) {
	s.settle(ctx)
	return s.store.ScopeResults(ctx, scope, limit)
}

// settle copies the final status and processed count of ended sessions
// into their pending launch results. Sessions still open stay pending.
func (s *Scheduler) settle(ctx context.Context) {
	if !s.ledger.Available() {
		return
	}
	pending, err := s.store.PendingResults(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list pending runs: %v", err)
		return
	}

	for i := range pending {
		r := &pending[i]
		outcome, processed := domain.StatusRunning, 0
		rec, err := s.ledger.Record(ctx, r.SessionID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// The ledger row was pruned before the run settled.
			logger.Warn("scheduler: session %s of %s left the ledger unsettled", r.SessionID, r.TaskID)
			outcome = domain.StatusStopped
		case err != nil:
			logger.Warn("scheduler: failed to read session %s: %v", r.SessionID, err)
			continue
		default:
			outcome, processed = rec.Status, rec.Processed
		}
		if !outcome.IsTerminal() {
			continue
		}
		if err := s.store.SettleResult(ctx, r.SessionID, outcome, processed); err != nil {
			logger.Warn("scheduler: failed to settle %s: %v", r.SessionID, err)
			continue
		}
		logger.Debug("scheduler: %s settled as %s with %d processed", r.TaskID, outcome, processed)
	}
}

// checkAndRunDueTasks settles ended launches, then runs tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	s.settle(ctx)

	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		task := &tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, task)
		}
	}
}

// runTask launches the sync of a single task.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	scope, ok := domain.ScopeFromTaskID(task.ID)
	if !ok {
		logger.Warn("scheduler: unknown task ID: %s", task.ID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Section("scheduled sync " + task.ID)

		result := &domain.TaskResult{
			TaskID:    task.ID,
			Scope:     scope,
			StartedAt: s.now(),
		}

		sessionID, err := s.launcher.StartIncremental(ctx, nil, scope)
		result.SessionID = sessionID
		result.EndedAt = s.now()

		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			// Still running from a previous interval; try again next interval.
			result.Error = err.Error()
			logger.Info("scheduler: %s skipped: %v", task.ID, err)
		case err != nil:
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.Warn("scheduler: %s failed: %v", task.ID, err)
		default:
			result.Success = true
			result.Outcome = domain.StatusRunning
			task.LastError = ""
			task.LastSuccess = result.EndedAt
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}

		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}

		if pruneErr := s.store.PruneHistory(ctx, s.config.HistoryKeep); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

func profileLabel(p *domain.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return domain.ScopeName(p.ID)
}
