package domain

import (
	"strings"
	"time"
)

// RawRecord is one product record as returned by the catalog API.
// The core never inspects its shape; only the transformer does.
type RawRecord map[string]any

// Category is a node of the catalog's category tree.
type Category struct {
	ExternalID string
	ParentID   string
	Name       string
	Position   int
}

// Product is the local store's view of an imported record.
type Product struct {
	ID        int64
	SKU       string
	Reference string

	// ParentID links a variant to its container product. Zero for top-level products.
	ParentID int64

	Name        string
	Description string
	Language    string
	Price       float64
	Currency    string
	Stock       int
	Categories  []string
	Images      []string
	Attributes  map[string]string
	UpdatedAt   time.Time
}

// IndexEntry maps a lookup key to a local product id.
type IndexEntry struct {
	Key string
	ID  int64
}

// BatchResult is the aggregate outcome of transforming one sub-batch.
type BatchResult struct {
	Created int
	Updated int
	Failed  int

	// Errors holds per-record validation messages.
	Errors []string
}

// PageFilter carries the query parameters of a catalog page fetch.
type PageFilter struct {
	// Filters are the scope's catalog filters.
	Filters map[string]string

	// ModifiedSince restricts results for incremental sessions. Zero means no restriction.
	ModifiedSince time.Time
}

// SyntheticSuffix separates a reference from a suffix added locally,
// for example to give a variant container a SKU of its own.
const SyntheticSuffix = "#"

// VariantSeparator separates a reference from its variant part.
const VariantSeparator = "/"

// ReferenceBase derives the grouping key of a reference by stripping any
// synthetic suffix and then any variant part. "A100/RED#parent" becomes "A100".
func ReferenceBase(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.Index(ref, SyntheticSuffix); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.Index(ref, VariantSeparator); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimSpace(ref)
}
