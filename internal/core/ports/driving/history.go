package driving

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// HistoryService exposes the sync history ledger for reporting.
type HistoryService interface {
	Recent(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryRecord, error)
	Stats(ctx context.Context, q domain.HistoryQuery) (domain.HistoryStats, error)

	// Cleanup keeps the most recent keep sessions and returns how many were removed.
	Cleanup(ctx context.Context, keep int) (int, error)
}
