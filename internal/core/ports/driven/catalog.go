package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// CatalogClient fetches data from the external catalog API.
type CatalogClient interface {
	// FetchPage returns one page of raw records. Page numbering starts at zero.
	// Callers must pass the same pageSize for every page of a session.
	// An empty slice means there are no more records.
	FetchPage(ctx context.Context, page, pageSize int, filter domain.PageFilter) ([]domain.RawRecord, error)

	// FetchCategoryTree returns the whole category tree, parents before children.
	FetchCategoryTree(ctx context.Context) ([]domain.Category, error)

	// FetchStock returns stock quantities keyed by SKU.
	// SKUs unknown to the catalog are omitted from the result.
	FetchStock(ctx context.Context, skus []string) (map[string]int, error)
}
