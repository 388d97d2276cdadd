package domain

import (
	"strings"
	"time"
)

// ScheduledTask represents a recurring background task.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string

	// Name is a human-readable name for the task.
	Name string

	// Scope is the catalog scope the task syncs.
	Scope string

	// Interval defines how often the task should run.
	Interval time.Duration

	// LastRun is when the task last ran.
	LastRun time.Time

	// NextRun is when the task should run next.
	NextRun time.Time

	// LastError contains the last error message, if any.
	LastError string

	// LastSuccess is when the task last completed successfully.
	LastSuccess time.Time

	// Enabled indicates whether the task is active.
	Enabled bool
}

// TaskResult records one scheduled launch and, once settled, how the
// session it launched ended.
type TaskResult struct {
	// TaskID identifies which task was run.
	TaskID string
	Scope  string

	// SessionID is the sync session the run launched, if any.
	SessionID string

	// Outcome is StatusRunning until the session reaches a terminal
	// status in the ledger. Runs that launched nothing leave it empty.
	Outcome SessionStatus

	// Processed is the session's processed count when it settled.
	Processed int

	StartedAt time.Time
	EndedAt   time.Time

	// Success indicates whether the task completed without error.
	Success bool

	// Error contains the error message if Success is false.
	Error string
}

// Pending reports whether the launched session has not been settled yet.
func (r *TaskResult) Pending() bool {
	return r.SessionID != "" && r.Outcome == StatusRunning
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool

	// CheckInterval is how often due tasks are looked for.
	CheckInterval time.Duration

	// HistoryKeep is the number of results retained per task.
	HistoryKeep int
}

// DefaultSchedulerConfig returns sensible defaults for the scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:       true,
		CheckInterval: 1 * time.Minute,
		HistoryKeep:   100,
	}
}

// TaskIDCatalogSyncPrefix prefixes the recurring sync task of each profile.
const TaskIDCatalogSyncPrefix = "catalog-sync:"

// SyncTaskID returns the recurring task id for a scope.
func SyncTaskID(scope string) string {
	return TaskIDCatalogSyncPrefix + ScopeName(scope)
}

// ScopeFromTaskID extracts the scope from a recurring sync task id.
// It returns false for ids that are not sync tasks.
func ScopeFromTaskID(id string) (string, bool) {
	name, ok := strings.CutPrefix(id, TaskIDCatalogSyncPrefix)
	if !ok || name == "" {
		return "", false
	}
	if name == DefaultScope {
		return "", true
	}
	return name, true
}
