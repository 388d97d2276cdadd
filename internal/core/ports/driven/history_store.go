package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// HistoryStore persists the sync history ledger.
// Stores return domain.ErrLedgerUnavailable when their backing table is missing.
type HistoryStore interface {
	// Insert adds a ledger row. The session id must be new.
	Insert(ctx context.Context, rec *domain.HistoryRecord) error

	// Update writes the given fields of a row. Keys outside
	// domain.HistoryFields are rejected with domain.ErrInvalidInput.
	// Returns domain.ErrNotFound when the row does not exist.
	Update(ctx context.Context, sessionID string, fields map[string]any) error

	// Get returns domain.ErrNotFound when the row does not exist.
	Get(ctx context.Context, sessionID string) (*domain.HistoryRecord, error)

	// Recent returns rows ordered by start time descending.
	Recent(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error)

	// Running returns the most recently started running row of a scope,
	// or nil when there is none.
	Running(ctx context.Context, scope string) (*domain.HistoryRecord, error)

	// Stats aggregates rows matching the query. Limit is ignored.
	Stats(ctx context.Context, q domain.HistoryQuery) (domain.HistoryStats, error)

	// Prune keeps the most recent keep rows by start time and returns how many were removed.
	Prune(ctx context.Context, keep int) (int, error)
}
