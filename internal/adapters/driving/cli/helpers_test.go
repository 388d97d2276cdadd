package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driving"
)

// mockLauncher implements driving.SessionLauncher for testing.
type mockLauncher struct {
	err    error
	status *driving.SyncStatus

	lastLimit int
	lastSince *time.Time
	lastScope string
	cleared   bool
}

func (m *mockLauncher) Start(_ context.Context, limit int, scope string) (string, error) {
	m.lastLimit, m.lastScope = limit, scope
	return "sess-full", m.err
}

func (m *mockLauncher) StartIncremental(_ context.Context, since *time.Time, scope string) (string, error) {
	m.lastSince, m.lastScope = since, scope
	return "sess-incr", m.err
}

func (m *mockLauncher) Resume(_ context.Context, scope string) (string, error) {
	m.lastScope = scope
	return "sess-paused", m.err
}

func (m *mockLauncher) Pause(_ context.Context, scope string) (string, error) {
	m.lastScope = scope
	return "sess-running", m.err
}

func (m *mockLauncher) Stop(_ context.Context, scope string) (string, error) {
	m.lastScope = scope
	return "sess-running", m.err
}

func (m *mockLauncher) ForceClear(_ context.Context, scope string) error {
	m.lastScope = scope
	m.cleared = m.err == nil
	return m.err
}

func (m *mockLauncher) ReleaseLease(context.Context, string) error { return m.err }

func (m *mockLauncher) IsRunning(context.Context, string) (bool, error) { return false, m.err }

func (m *mockLauncher) IsPaused(context.Context, string) (bool, error) { return false, m.err }

func (m *mockLauncher) RunningSessionID(context.Context, string) (string, error) { return "", m.err }

func (m *mockLauncher) Status(_ context.Context, scope string) (*driving.SyncStatus, error) {
	m.lastScope = scope
	if m.err != nil {
		return nil, m.err
	}
	if m.status != nil {
		return m.status, nil
	}
	return &driving.SyncStatus{Scope: scope}, nil
}

// mockHistory implements driving.HistoryService for testing.
type mockHistory struct {
	records []domain.HistoryRecord
	stats   domain.HistoryStats
	err     error

	lastQuery domain.HistoryQuery
	lastKeep  int
}

func (m *mockHistory) Recent(_ context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error) {
	m.lastQuery = q
	return m.records, m.err
}

func (m *mockHistory) Stats(_ context.Context, q domain.HistoryQuery) (domain.HistoryStats, error) {
	m.lastQuery = q
	return m.stats, m.err
}

func (m *mockHistory) Cleanup(_ context.Context, keep int) (int, error) {
	m.lastKeep = keep
	return 3, m.err
}

// mockWorker implements driving.Worker for testing.
type mockWorker struct {
	ran int
	err error

	onceCalls int
}

func (m *mockWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockWorker) RunOnce(context.Context) (int, error) {
	m.onceCalls++
	return m.ran, m.err
}

func (m *mockWorker) Stop() error { return nil }

// resetFlags restores every command flag to its default between runs.
func resetFlags() {
	verbose = false
	scopeFlag = ""
	configPath = ""
	startLimit = 0
	sinceFlag = ""
	clearYes = false
	historyLimit = 20
	historyAll = false
	historyKeep = 100
	workerOnce = false
}

// runCmd executes the root command with the given services and arguments.
func runCmd(t *testing.T, svc Services, args ...string) (string, error) {
	t.Helper()

	old := Services{Launcher: launcher, History: historyService, Worker: queueWorker, Scheduler: scheduler}
	SetServices(svc)
	resetFlags()
	t.Cleanup(func() {
		SetServices(old)
		resetFlags()
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}
