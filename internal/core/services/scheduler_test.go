package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
)

// --- Mock implementations for scheduler testing ---

// mockSchedulerStore implements driven.SchedulerStore for testing.
type mockSchedulerStore struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.ScheduledTask
	results  map[string][]domain.TaskResult
	saveErr  error
	listErr  error
	getErr   error
	pruneErr error
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		tasks:   make(map[string]*domain.ScheduledTask),
		results: make(map[string][]domain.TaskResult),
	}
}

func (m *mockSchedulerStore) GetTask(_ context.Context, taskID string) (*domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	task, exists := m.tasks[taskID]
	if !exists {
		return nil, nil
	}
	// Return a copy
	taskCopy := *task
	return &taskCopy, nil
}

func (m *mockSchedulerStore) ListTasks(_ context.Context) ([]domain.ScheduledTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	tasks := make([]domain.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (m *mockSchedulerStore) SaveTask(_ context.Context, task *domain.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if task == nil {
		return domain.ErrInvalidInput
	}
	taskCopy := *task
	m.tasks[task.ID] = &taskCopy
	return nil
}

func (m *mockSchedulerStore) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *mockSchedulerStore) RecordResult(_ context.Context, result *domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result == nil {
		return domain.ErrInvalidInput
	}
	m.results[result.TaskID] = append(m.results[result.TaskID], *result)
	return nil
}

func (m *mockSchedulerStore) PendingResults(_ context.Context) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []domain.TaskResult
	for _, results := range m.results {
		for i := range results {
			if results[i].Pending() {
				pending = append(pending, results[i])
			}
		}
	}
	return pending, nil
}

func (m *mockSchedulerStore) SettleResult(_ context.Context, sessionID string, outcome domain.SessionStatus, processed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, results := range m.results {
		for i := range results {
			if results[i].SessionID == sessionID && results[i].Pending() {
				results[i].Outcome = outcome
				results[i].Processed = processed
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

func (m *mockSchedulerStore) ScopeResults(_ context.Context, scope string, limit int) ([]domain.TaskResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TaskResult
	for _, results := range m.results {
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].Scope == scope && (limit <= 0 || len(out) < limit) {
				out = append(out, results[i])
			}
		}
	}
	return out, nil
}

func (m *mockSchedulerStore) PruneHistory(_ context.Context, _ int) error {
	return m.pruneErr
}

func (m *mockSchedulerStore) task(id string) *domain.ScheduledTask {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	taskCopy := *t
	return &taskCopy
}

func (m *mockSchedulerStore) resultsFor(id string) []domain.TaskResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TaskResult(nil), m.results[id]...)
}

// mockLauncher implements driving.SessionLauncher for testing.
type mockLauncher struct {
	mu       sync.Mutex
	scopes   []string
	startErr error
}

func (m *mockLauncher) Start(_ context.Context, _ int, scope string) (string, error) {
	return m.StartIncremental(context.Background(), nil, scope)
}

func (m *mockLauncher) StartIncremental(_ context.Context, _ *time.Time, scope string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes = append(m.scopes, scope)
	if m.startErr != nil {
		return "", m.startErr
	}
	return "session-" + domain.ScopeName(scope), nil
}

func (m *mockLauncher) Resume(context.Context, string) (string, error) { return "", nil }
func (m *mockLauncher) Pause(context.Context, string) (string, error)  { return "", nil }
func (m *mockLauncher) Stop(context.Context, string) (string, error)   { return "", nil }
func (m *mockLauncher) ForceClear(context.Context, string) error       { return nil }
func (m *mockLauncher) ReleaseLease(context.Context, string) error     { return nil }

func (m *mockLauncher) IsRunning(context.Context, string) (bool, error) { return false, nil }
func (m *mockLauncher) IsPaused(context.Context, string) (bool, error)  { return false, nil }

func (m *mockLauncher) RunningSessionID(context.Context, string) (string, error) { return "", nil }

func (m *mockLauncher) Status(_ context.Context, scope string) (*driving.SyncStatus, error) {
	return &driving.SyncStatus{Scope: scope}, nil
}

func (m *mockLauncher) launched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.scopes...)
}

// Ensure mocks implement interfaces
var _ driven.SchedulerStore = (*mockSchedulerStore)(nil)
var _ driving.SessionLauncher = (*mockLauncher)(nil)

func testProfiles() *memory.ProfileStore {
	return memory.NewProfileStore(
		domain.Profile{ID: "", Name: "Main", Enabled: true, Interval: time.Hour},
		domain.Profile{ID: "eu", Enabled: true, Interval: 30 * time.Minute},
		domain.Profile{ID: "us", Enabled: false, Interval: time.Hour},
	)
}

// ==================== Scheduler Tests ====================

func TestNewScheduler(t *testing.T) {
	config := domain.DefaultSchedulerConfig()
	scheduler := NewScheduler(config, newMockSchedulerStore(), testProfiles(), &mockLauncher{}, nil)

	require.NotNil(t, scheduler)
	assert.Equal(t, config.Enabled, scheduler.config.Enabled)

	scheduler = NewScheduler(domain.SchedulerConfig{}, newMockSchedulerStore(), testProfiles(), &mockLauncher{}, nil)
	assert.Equal(t, time.Minute, scheduler.config.CheckInterval)
	assert.Equal(t, 100, scheduler.config.HistoryKeep)
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), newMockSchedulerStore(), testProfiles(), &mockLauncher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	// Start scheduler in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Start(ctx)
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := scheduler.Stop()
	require.NoError(t, err)

	wg.Wait()
}

func TestScheduler_StartDisabled(t *testing.T) {
	store := newMockSchedulerStore()
	config := domain.DefaultSchedulerConfig()
	config.Enabled = false
	scheduler := NewScheduler(config, store, testProfiles(), &mockLauncher{}, nil)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Empty(t, store.tasks, "a disabled scheduler creates no tasks")
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), newMockSchedulerStore(), testProfiles(), &mockLauncher{}, nil)

	// Stop without starting should be safe
	err := scheduler.Stop()
	require.NoError(t, err)
}

func TestScheduler_DoubleStart(t *testing.T) {
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), newMockSchedulerStore(), testProfiles(), &mockLauncher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = scheduler.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)

	// Second start should return immediately (already running)
	err := scheduler.Start(context.Background())
	assert.NoError(t, err)

	cancel()
	scheduler.Stop() //nolint:errcheck
	wg.Wait()
}

func TestScheduler_Reload(t *testing.T) {
	store := newMockSchedulerStore()
	profiles := testProfiles()
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, profiles, &mockLauncher{}, nil)
	ctx := context.Background()

	require.NoError(t, scheduler.Reload(ctx))

	primary := store.task(domain.SyncTaskID(""))
	require.NotNil(t, primary)
	assert.Equal(t, "Catalog sync (Main)", primary.Name)
	assert.True(t, primary.Enabled)
	assert.Equal(t, time.Hour, primary.Interval)

	eu := store.task(domain.SyncTaskID("eu"))
	require.NotNil(t, eu)
	assert.Equal(t, "Catalog sync (eu)", eu.Name)
	assert.Equal(t, "eu", eu.Scope)

	us := store.task(domain.SyncTaskID("us"))
	require.NotNil(t, us)
	assert.False(t, us.Enabled, "disabled profiles keep a disabled task")

	// A profile that disappears gets its task disabled
	scheduler.profiles = memory.NewProfileStore(domain.Profile{ID: "", Enabled: true, Interval: time.Hour})
	require.NoError(t, scheduler.Reload(ctx))
	assert.False(t, store.task(domain.SyncTaskID("eu")).Enabled)
	assert.True(t, store.task(domain.SyncTaskID("")).Enabled)
}

func TestScheduler_ReloadIgnoresForeignTasks(t *testing.T) {
	store := newMockSchedulerStore()
	require.NoError(t, store.SaveTask(context.Background(), &domain.ScheduledTask{ID: "housekeeping", Enabled: true}))
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), &mockLauncher{}, nil)

	require.NoError(t, scheduler.Reload(context.Background()))
	assert.True(t, store.task("housekeeping").Enabled)
}

func TestScheduler_EnsureTask_UpdateInterval(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), &mockLauncher{}, nil)
	ctx := context.Background()

	err := scheduler.ensureTask(ctx, "test-task", "eu", "Test Task", time.Hour, true)
	require.NoError(t, err)

	err = scheduler.ensureTask(ctx, "test-task", "eu", "Test Task", 2*time.Hour, true)
	require.NoError(t, err)

	task, err := store.GetTask(ctx, "test-task")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, task.Interval)
	assert.Equal(t, "eu", task.Scope)
}

func TestScheduler_CheckAndRunDueTasks(t *testing.T) {
	store := newMockSchedulerStore()
	launcher := &mockLauncher{}
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), launcher, nil)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{
		ID:       domain.SyncTaskID("eu"),
		Interval: time.Hour,
		NextRun:  now.Add(-time.Minute), // Already past due
		Enabled:  true,
	}))
	require.NoError(t, store.SaveTask(ctx, &domain.ScheduledTask{
		ID:       domain.SyncTaskID("us"),
		Interval: time.Hour,
		NextRun:  now.Add(time.Hour),
		Enabled:  true,
	}))

	scheduler.checkAndRunDueTasks(ctx)
	scheduler.wg.Wait()

	assert.Equal(t, []string{"eu"}, launcher.launched())

	task := store.task(domain.SyncTaskID("eu"))
	assert.True(t, task.NextRun.After(now))
	assert.False(t, task.LastSuccess.IsZero())

	results := store.resultsFor(domain.SyncTaskID("eu"))
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "session-eu", results[0].SessionID)
	assert.Equal(t, "eu", results[0].Scope)
	assert.Equal(t, domain.StatusRunning, results[0].Outcome)
}

func TestScheduler_RunTask_InProgressIsSkipped(t *testing.T) {
	store := newMockSchedulerStore()
	launcher := &mockLauncher{startErr: &domain.SessionInProgressError{SessionID: "busy"}}
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), launcher, nil)
	ctx := context.Background()

	task := &domain.ScheduledTask{ID: domain.SyncTaskID(""), Interval: time.Hour, Enabled: true}
	scheduler.runTask(ctx, task)
	scheduler.wg.Wait()

	results := store.resultsFor(task.ID)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "busy")
	assert.Empty(t, results[0].Outcome, "nothing was launched")
	assert.Empty(t, store.task(task.ID).LastError, "a skipped run is not an error")
}

func TestScheduler_RunTask_LaunchError(t *testing.T) {
	store := newMockSchedulerStore()
	launcher := &mockLauncher{startErr: errors.New("kv down")}
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), launcher, nil)
	ctx := context.Background()

	task := &domain.ScheduledTask{ID: domain.SyncTaskID("eu"), Interval: time.Hour, Enabled: true}
	scheduler.runTask(ctx, task)
	scheduler.wg.Wait()

	assert.Equal(t, "kv down", store.task(task.ID).LastError)
}

func TestScheduler_RunTask_UnknownTaskID(t *testing.T) {
	launcher := &mockLauncher{}
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), newMockSchedulerStore(), testProfiles(), launcher, nil)

	// This should just log and return, not panic
	scheduler.runTask(context.Background(), &domain.ScheduledTask{ID: "unknown-task", Enabled: true})
	scheduler.wg.Wait()
	assert.Empty(t, launcher.launched())
}

func TestScheduler_SettlesEndedSessions(t *testing.T) {
	store := newMockSchedulerStore()
	history := memory.NewHistoryStore()
	ledger := NewHistoryLedger(history)
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), &mockLauncher{}, ledger)
	ctx := context.Background()

	require.True(t, ledger.Create(ctx, "done", domain.SessionIncremental, "eu"))
	require.True(t, ledger.Create(ctx, "open", domain.SessionIncremental, "eu"))
	require.NoError(t, ledger.Complete(ctx, &domain.Session{
		ID: "done", Scope: "eu", Status: domain.StatusCompleted, Counters: domain.Counters{Processed: 740},
	}))

	for _, id := range []string{"done", "open", "pruned"} {
		require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
			TaskID: domain.SyncTaskID("eu"), Scope: "eu", SessionID: id, Success: true, Outcome: domain.StatusRunning,
		}))
	}

	runs, err := scheduler.Runs(ctx, "eu", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	byID := make(map[string]domain.TaskResult, len(runs))
	for _, r := range runs {
		byID[r.SessionID] = r
	}
	assert.Equal(t, domain.StatusCompleted, byID["done"].Outcome)
	assert.Equal(t, 740, byID["done"].Processed)
	assert.Equal(t, domain.StatusRunning, byID["open"].Outcome, "open sessions stay pending")
	assert.Equal(t, domain.StatusStopped, byID["pruned"].Outcome)

	runs, err = scheduler.Runs(ctx, "us", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_SettleWithoutLedgerKeepsPending(t *testing.T) {
	store := newMockSchedulerStore()
	scheduler := NewScheduler(domain.DefaultSchedulerConfig(), store, testProfiles(), &mockLauncher{}, nil)
	ctx := context.Background()

	require.NoError(t, store.RecordResult(ctx, &domain.TaskResult{
		TaskID: domain.SyncTaskID(""), SessionID: "s1", Success: true, Outcome: domain.StatusRunning,
	}))

	runs, err := scheduler.Runs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Pending())
}
