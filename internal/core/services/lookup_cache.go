package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure LookupCache implements the interface.
var _ driven.LookupIndex = (*LookupCache)(nil)

// LookupCache answers product existence checks in O(1) for one tick.
//
// SKU and reference entries are last-write-wins. Grouping-key entries keep
// the first identity recorded for a key. The cache persists nothing and is
// not safe for concurrent use; each tick builds its own.
type LookupCache struct {
	index driven.ProductIndex

	bySKU  map[string]int64
	byRef  map[string]int64
	byBase map[string]int64
}

// CacheStats reports map sizes.
type CacheStats struct {
	SKUs       int
	References int
	Bases      int
}

// NewLookupCache creates an empty cache over a product index.
func NewLookupCache(index driven.ProductIndex) *LookupCache {
	return &LookupCache{
		index:  index,
		bySKU:  make(map[string]int64),
		byRef:  make(map[string]int64),
		byBase: make(map[string]int64),
	}
}

// Warm rebuilds the maps with exactly three bulk reads.
func (c *LookupCache) Warm(ctx context.Context) error {
	skus, err := c.index.SKUIndex(ctx)
	if err != nil {
		return fmt.Errorf("load sku index: %w", err)
	}
	refs, err := c.index.ReferenceIndex(ctx)
	if err != nil {
		return fmt.Errorf("load reference index: %w", err)
	}
	groups, err := c.index.GroupingIndex(ctx)
	if err != nil {
		return fmt.Errorf("load grouping index: %w", err)
	}

	c.bySKU = make(map[string]int64, len(skus))
	c.byRef = make(map[string]int64, len(refs))
	c.byBase = make(map[string]int64, len(groups))

	for _, e := range skus {
		if e.Key != "" {
			c.bySKU[e.Key] = e.ID
		}
	}
	for _, e := range refs {
		if e.Key != "" {
			c.byRef[e.Key] = e.ID
		}
	}
	for _, e := range groups {
		c.addBase(domain.ReferenceBase(e.Key), e.ID)
	}
	return nil
}

// FindBySKU looks up a product by SKU.
func (c *LookupCache) FindBySKU(sku string) (int64, bool) {
	return lookup(c.bySKU, sku)
}

// FindByReference looks up a product by external reference.
func (c *LookupCache) FindByReference(ref string) (int64, bool) {
	return lookup(c.byRef, ref)
}

// FindByReferenceBase looks up a container product by grouping key.
func (c *LookupCache) FindByReferenceBase(base string) (int64, bool) {
	return lookup(c.byBase, base)
}

// Record makes a write visible to later lookups. Empty keys are skipped.
func (c *LookupCache) Record(id int64, sku, ref, base string) {
	if sku != "" {
		c.bySKU[sku] = id
	}
	if ref != "" {
		c.byRef[ref] = id
	}
	c.addBase(base, id)
}

// RemoveSKU forgets a SKU, typically a superseded synthetic one.
func (c *LookupCache) RemoveSKU(sku string) {
	delete(c.bySKU, sku)
}

// Stats returns the current map sizes.
func (c *LookupCache) Stats() CacheStats {
	return CacheStats{
		SKUs:       len(c.bySKU),
		References: len(c.byRef),
		Bases:      len(c.byBase),
	}
}

// SKUs returns the cached SKUs in sorted order.
func (c *LookupCache) SKUs() []string {
	out := make([]string, 0, len(c.bySKU))
	for sku := range c.bySKU {
		out = append(out, sku)
	}
	sort.Strings(out)
	return out
}

func (c *LookupCache) addBase(base string, id int64) {
	if base == "" {
		return
	}
	if _, ok := c.byBase[base]; ok {
		return
	}
	c.byBase[base] = id
}

func lookup(m map[string]int64, key string) (int64, bool) {
	if key == "" {
		return 0, false
	}
	id, ok := m[key]
	return id, ok
}
