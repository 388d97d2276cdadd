package domain

import "time"

// DefaultScope is the display name and storage key used for the empty scope.
const DefaultScope = "default"

// ScopeName returns the storage name for a scope. The empty scope maps to DefaultScope.
func ScopeName(scope string) string {
	if scope == "" {
		return DefaultScope
	}
	return scope
}

// SessionType distinguishes full imports from incremental ones.
type SessionType string

const (
	// SessionFull imports the whole catalog.
	SessionFull SessionType = "full"
	// SessionIncremental imports records modified since a watermark.
	SessionIncremental SessionType = "incremental"
)

// SessionStatus is the state of a sync session.
type SessionStatus string

const (
	StatusRunning      SessionStatus = "running"
	StatusPaused       SessionStatus = "paused"
	StatusSyncingStock SessionStatus = "syncing_stock"
	StatusCompleted    SessionStatus = "completed"
	StatusFailed       SessionStatus = "failed"
	StatusStopped      SessionStatus = "stopped"
)

// IsTerminal reports whether no further ticks will run for the status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// IsActive reports whether ticks are still being scheduled for the status.
func (s SessionStatus) IsActive() bool {
	return s == StatusRunning || s == StatusSyncingStock
}

// Counters are the progress tallies of a session.
// They never decrease within a session.
type Counters struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// Add accumulates a batch result into the counters.
func (c *Counters) Add(processed int, r BatchResult) {
	c.Processed += processed
	c.Created += r.Created
	c.Updated += r.Updated
	c.Failed += r.Failed
}

// Session is the live status record of one sync run.
// It is persisted between ticks; nothing about it lives only in memory.
type Session struct {
	// ID is unique per launch.
	ID string `json:"id"`

	// Scope is the profile the session runs under. Empty is the default scope.
	Scope string `json:"scope,omitempty"`

	Type   SessionType   `json:"type"`
	Status SessionStatus `json:"status"`

	// Since is the "modified since" watermark for incremental sessions.
	Since time.Time `json:"since,omitempty"`

	Counters

	// Page and Offset are the cursor of the next tick to run. Once the
	// product phase ends they hold the position it stopped at.
	Page   int `json:"page"`
	Offset int `json:"offset"`

	// Skipped is set when a resume left part of a page unprocessed. Such a
	// session does not advance the last-sync watermark.
	Skipped bool `json:"skipped,omitempty"`

	// BatchSize is the current sub-batch size. It only shrinks.
	BatchSize int `json:"batch_size"`

	// ConsecutiveFailures resets on the next successful tick.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// ErrorCount is the total number of failed ticks in the session.
	ErrorCount int `json:"error_count"`

	// Limit caps the number of processed records. Zero is unbounded.
	Limit int `json:"limit"`

	// Error holds the last failure message.
	Error string `json:"error,omitempty"`

	// HistoryCreated is set once the first tick has bootstrapped the ledger row.
	HistoryCreated bool `json:"history_created"`

	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	PausedAt    time.Time `json:"paused_at,omitempty"`
}

// LimitReached reports whether a configured record limit has been met.
func (s *Session) LimitReached() bool {
	return s.Limit > 0 && s.Processed >= s.Limit
}

// Remaining returns how many records may still be processed, or -1 when unbounded.
func (s *Session) Remaining() int {
	if s.Limit <= 0 {
		return -1
	}
	if r := s.Limit - s.Processed; r > 0 {
		return r
	}
	return 0
}

// Fresh reports whether the session has been touched within window.
func (s *Session) Fresh(now time.Time, window time.Duration) bool {
	return !s.UpdatedAt.IsZero() && now.Sub(s.UpdatedAt) <= window
}

// Lease is a per-scope claim owned by one session.
type Lease struct {
	Scope      string    `json:"scope,omitempty"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	// Paused leases are extended for the pause window and may be superseded
	// by a new session start.
	Paused bool `json:"paused"`
}

// Expired reports whether the lease is no longer valid at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
