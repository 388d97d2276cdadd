package domain

import "time"

// HistoryRecord is the ledger entry kept for one session.
type HistoryRecord struct {
	SessionID string
	Scope     string
	Type      SessionType
	Status    SessionStatus

	Counters

	// Errors is the number of failed ticks.
	Errors int

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	// UpdatedAt is maintained by the store on every write.
	UpdatedAt time.Time
}

// Ledger field names accepted by partial updates.
const (
	FieldStatus      = "status"
	FieldProcessed   = "processed"
	FieldCreated     = "created"
	FieldUpdated     = "updated"
	FieldFailed      = "failed"
	FieldCompletedAt = "completed_at"
	FieldDurationMS  = "duration_ms"
	FieldErrors      = "errors"
)

// HistoryFields lists every field a partial ledger update may write.
var HistoryFields = []string{
	FieldStatus,
	FieldProcessed,
	FieldCreated,
	FieldUpdated,
	FieldFailed,
	FieldCompletedAt,
	FieldDurationMS,
	FieldErrors,
}

// IsHistoryField reports whether name may be written by a partial update.
func IsHistoryField(name string) bool {
	for _, f := range HistoryFields {
		if f == name {
			return true
		}
	}
	return false
}

// HistoryQuery selects ledger rows.
type HistoryQuery struct {
	// Scope restricts results to one scope unless AllScopes is set.
	Scope     string
	AllScopes bool
	Limit     int
}

// HistoryStats aggregates ledger rows.
type HistoryStats struct {
	Total     int
	Running   int
	Paused    int
	Completed int
	Failed    int
	Stopped   int

	// Records sums the counters of every matching session.
	Records Counters

	AverageDuration time.Duration
	LastCompleted   time.Time
}
