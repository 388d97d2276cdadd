package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// ProductIndex provides the bulk reads that warm the lookup cache.
type ProductIndex interface {
	// SKUIndex returns every product SKU.
	SKUIndex(ctx context.Context) ([]domain.IndexEntry, error)

	// ReferenceIndex returns every product reference.
	ReferenceIndex(ctx context.Context) ([]domain.IndexEntry, error)

	// GroupingIndex returns the references of top-level products,
	// ordered by product id ascending.
	GroupingIndex(ctx context.Context) ([]domain.IndexEntry, error)
}

// ProductStore persists products and categories.
type ProductStore interface {
	ProductIndex

	// SaveProduct creates the product when ID is zero, otherwise updates it.
	// It returns the product id and whether a row was created.
	SaveProduct(ctx context.Context, p *domain.Product) (int64, bool, error)

	// GetProduct returns domain.ErrNotFound when the id is unknown.
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// UpdateStock sets the stock quantity of a product.
	UpdateStock(ctx context.Context, id int64, quantity int) error

	// SaveCategories upserts categories by external id and returns how many were written.
	SaveCategories(ctx context.Context, categories []domain.Category) (int, error)

	// CountProducts returns the number of stored products.
	CountProducts(ctx context.Context) (int, error)
}
