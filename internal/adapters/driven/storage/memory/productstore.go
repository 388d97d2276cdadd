package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// Ensure ProductStore implements the interface.
var _ driven.ProductStore = (*ProductStore)(nil)

// ProductStore is an in-memory implementation of driven.ProductStore.
type ProductStore struct {
	mu         sync.RWMutex
	products   map[int64]domain.Product
	categories map[string]domain.Category
	nextID     int64
}

// NewProductStore creates a new in-memory product store.
func NewProductStore() *ProductStore {
	return &ProductStore{
		products:   make(map[int64]domain.Product),
		categories: make(map[string]domain.Category),
	}
}

// SaveProduct inserts a product when its ID is zero and replaces it otherwise.
func (s *ProductStore) SaveProduct(_ context.Context, p *domain.Product) (int64, bool, error) {
	if p == nil {
		return 0, false, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID != 0 {
		if _, ok := s.products[p.ID]; !ok {
			return 0, false, domain.ErrNotFound
		}
		s.products[p.ID] = copyProduct(p)
		return p.ID, false, nil
	}
	s.nextID++
	stored := copyProduct(p)
	stored.ID = s.nextID
	s.products[stored.ID] = stored
	return stored.ID, true, nil
}

// GetProduct retrieves a product by ID.
func (s *ProductStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyProduct(&p)
	return &out, nil
}

// UpdateStock sets the stock level of a product.
func (s *ProductStore) UpdateStock(_ context.Context, id int64, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Stock = quantity
	s.products[id] = p
	return nil
}

// SaveCategories upserts categories keyed by external ID.
func (s *ProductStore) SaveCategories(_ context.Context, categories []domain.Category) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range categories {
		s.categories[c.ExternalID] = c
	}
	return len(categories), nil
}

// CountProducts returns the number of stored products.
func (s *ProductStore) CountProducts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

// Categories returns the stored categories ordered by external ID.
func (s *ProductStore) Categories() []domain.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// SKUIndex lists every product with a SKU.
func (s *ProductStore) SKUIndex(_ context.Context) ([]domain.IndexEntry, error) {
	return s.index(func(p *domain.Product) string { return p.SKU }), nil
}

// ReferenceIndex lists every product with a reference.
func (s *ProductStore) ReferenceIndex(_ context.Context) ([]domain.IndexEntry, error) {
	return s.index(func(p *domain.Product) string { return p.Reference }), nil
}

// GroupingIndex lists top-level products by reference.
func (s *ProductStore) GroupingIndex(_ context.Context) ([]domain.IndexEntry, error) {
	return s.index(func(p *domain.Product) string {
		if p.ParentID != 0 {
			return ""
		}
		return p.Reference
	}), nil
}

// index returns non-empty keys ordered by product ID.
func (s *ProductStore) index(key func(*domain.Product) string) []domain.IndexEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IndexEntry, 0, len(s.products))
	for id, p := range s.products {
		if k := key(&p); k != "" {
			out = append(out, domain.IndexEntry{Key: k, ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyProduct(p *domain.Product) domain.Product {
	out := *p
	out.Categories = append([]string(nil), p.Categories...)
	out.Images = append([]string(nil), p.Images...)
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}
