package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// LookupIndex answers existence checks for product keys during one tick.
// Lookups on an empty key report not found.
type LookupIndex interface {
	FindBySKU(sku string) (int64, bool)
	FindByReference(ref string) (int64, bool)
	FindByReferenceBase(base string) (int64, bool)

	// Record makes a write visible to later lookups in the same tick.
	Record(id int64, sku, ref, base string)

	// RemoveSKU forgets a superseded key.
	RemoveSKU(sku string)
}

// Transformer maps raw catalog records to products and writes them.
type Transformer interface {
	// TransformBatch transforms and upserts records for a profile.
	// Per-record validation problems are counted in the result; an error
	// return means the batch as a whole could not be written.
	TransformBatch(
		ctx context.Context,
		records []domain.RawRecord,
		profile domain.Profile,
		index LookupIndex,
	) (domain.BatchResult, error)
}
