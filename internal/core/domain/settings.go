package domain

import (
	"fmt"
	"time"
)

// SyncSettings are the tuning parameters of the batch tick state machine.
type SyncSettings struct {
	// PageSize is sent on every page fetch. It must not change within a session.
	PageSize int

	// BatchSize is the initial sub-batch size of a session.
	BatchSize int

	// MinBatchSize is the floor of adaptive shrinking.
	MinBatchSize int

	// MaxFailures is the number of consecutive failed ticks that fails the session.
	MaxFailures int

	// MaxPages is the absolute page ceiling of a session.
	MaxPages int

	StartDelay    time.Duration
	SubBatchDelay time.Duration
	PageDelay     time.Duration
	RetryDelay    time.Duration
	StockDelay    time.Duration

	// LeaseTimeout bounds a running lease and the staleness window of a status record.
	LeaseTimeout time.Duration

	// PausedLeaseTimeout bounds a paused lease.
	PausedLeaseTimeout time.Duration
}

// DefaultSyncSettings returns sensible defaults for catalog sync.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		PageSize:           100,
		BatchSize:          50,
		MinBatchSize:       5,
		MaxFailures:        5,
		MaxPages:           1000,
		StartDelay:         1 * time.Second,
		SubBatchDelay:      2 * time.Second,
		PageDelay:          10 * time.Second,
		RetryDelay:         30 * time.Second,
		StockDelay:         2 * time.Second,
		LeaseTimeout:       15 * time.Minute,
		PausedLeaseTimeout: 24 * time.Hour,
	}
}

// Validate checks the settings for values the state machine cannot run with.
func (s SyncSettings) Validate() error {
	switch {
	case s.PageSize <= 0:
		return fmt.Errorf("%w: page size must be positive", ErrInvalidInput)
	case s.MinBatchSize <= 0:
		return fmt.Errorf("%w: min batch size must be positive", ErrInvalidInput)
	case s.BatchSize < s.MinBatchSize:
		return fmt.Errorf("%w: batch size %d below minimum %d", ErrInvalidInput, s.BatchSize, s.MinBatchSize)
	case s.MaxFailures <= 0:
		return fmt.Errorf("%w: max failures must be positive", ErrInvalidInput)
	case s.MaxPages <= 0:
		return fmt.Errorf("%w: max pages must be positive", ErrInvalidInput)
	case s.LeaseTimeout <= 0 || s.PausedLeaseTimeout <= 0:
		return fmt.Errorf("%w: lease timeouts must be positive", ErrInvalidInput)
	}
	return nil
}
