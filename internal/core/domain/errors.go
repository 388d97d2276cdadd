package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync is already running for the scope.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrNotPaused indicates a resume was requested for a session that is not paused.
	ErrNotPaused = errors.New("session not paused")

	// ErrNotRunning indicates a pause or stop was requested with no active session.
	ErrNotRunning = errors.New("no session running")

	// ErrStaleSession indicates a write was attempted on behalf of a session
	// that no longer owns the scope's status record or lease.
	ErrStaleSession = errors.New("stale session")

	// ErrLedgerUnavailable indicates the history ledger is not provisioned.
	// Syncs continue without history when this is returned.
	ErrLedgerUnavailable = errors.New("history ledger unavailable")

	// ErrRateLimited indicates the catalog API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// SessionInProgressError is returned when a scope's lease is held by a
// running session. It matches ErrSyncInProgress with errors.Is.
type SessionInProgressError struct {
	Scope     string
	SessionID string
}

func (e *SessionInProgressError) Error() string {
	return fmt.Sprintf("sync already in progress for scope %s (session %s)", ScopeName(e.Scope), e.SessionID)
}

// Is reports whether target is ErrSyncInProgress.
func (e *SessionInProgressError) Is(target error) bool {
	return target == ErrSyncInProgress
}
