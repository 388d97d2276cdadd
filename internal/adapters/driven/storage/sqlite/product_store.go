package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
)

// productStore implements driven.ProductStore.
type productStore struct {
	store *Store
}

var _ driven.ProductStore = (*productStore)(nil)

// SaveProduct inserts a product when its ID is zero, otherwise replaces it.
func (s *productStore) SaveProduct(ctx context.Context, p *domain.Product) (int64, bool, error) {
	categories, images, attributes, err := encodeProductLists(p)
	if err != nil {
		return 0, false, err
	}
	now := formatTime(s.store.now())

	if p.ID == 0 {
		res, err := s.store.db.ExecContext(ctx, `
			INSERT INTO products (sku, reference, parent_id, name, description, language,
				price, currency, stock, categories, images, attributes, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.SKU, p.Reference, p.ParentID, p.Name, p.Description, p.Language,
			p.Price, p.Currency, p.Stock, categories, images, attributes, now)
		if err != nil {
			return 0, false, fmt.Errorf("inserting product: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("reading product id: %w", err)
		}
		return id, true, nil
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE products SET sku = ?, reference = ?, parent_id = ?, name = ?, description = ?,
			language = ?, price = ?, currency = ?, stock = ?, categories = ?, images = ?,
			attributes = ?, updated_at = ?
		WHERE id = ?
	`, p.SKU, p.Reference, p.ParentID, p.Name, p.Description, p.Language,
		p.Price, p.Currency, p.Stock, categories, images, attributes, now, p.ID)
	if err != nil {
		return 0, false, fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, false, domain.ErrNotFound
	}
	return p.ID, false, nil
}

// GetProduct retrieves a product by id.
func (s *productStore) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	var categories, images, attributes, updatedAt string
	err := s.store.db.QueryRowContext(ctx, `
		SELECT id, sku, reference, parent_id, name, description, language, price, currency,
			stock, categories, images, attributes, updated_at
		FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.SKU, &p.Reference, &p.ParentID, &p.Name, &p.Description, &p.Language,
		&p.Price, &p.Currency, &p.Stock, &categories, &images, &attributes, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading product %d: %w", id, err)
	}

	if err := json.Unmarshal([]byte(categories), &p.Categories); err != nil {
		return nil, fmt.Errorf("decoding categories: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("decoding images: %w", err)
	}
	if err := json.Unmarshal([]byte(attributes), &p.Attributes); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// UpdateStock sets a product's stock.
func (s *productStore) UpdateStock(ctx context.Context, id int64, quantity int) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE products SET stock = ?, updated_at = ? WHERE id = ?",
		quantity, formatTime(s.store.now()), id)
	if err != nil {
		return fmt.Errorf("updating stock of %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveCategories upserts categories by external id.
func (s *productStore) SaveCategories(ctx context.Context, categories []domain.Category) (int, error) {
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, c := range categories {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO categories (external_id, parent_id, name, position) VALUES (?, ?, ?, ?)
				ON CONFLICT(external_id) DO UPDATE SET
					parent_id = excluded.parent_id,
					name = excluded.name,
					position = excluded.position
			`, c.ExternalID, c.ParentID, c.Name, c.Position); err != nil {
				return fmt.Errorf("saving category %s: %w", c.ExternalID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(categories), nil
}

// CountProducts returns the number of stored products.
func (s *productStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting products: %w", err)
	}
	return n, nil
}

// SKUIndex returns every non-empty SKU.
func (s *productStore) SKUIndex(ctx context.Context) ([]domain.IndexEntry, error) {
	return s.index(ctx, "SELECT sku, id FROM products WHERE sku != '' ORDER BY id")
}

// ReferenceIndex returns every non-empty reference.
func (s *productStore) ReferenceIndex(ctx context.Context) ([]domain.IndexEntry, error) {
	return s.index(ctx, "SELECT reference, id FROM products WHERE reference != '' ORDER BY id")
}

// GroupingIndex returns the references of top-level products.
func (s *productStore) GroupingIndex(ctx context.Context) ([]domain.IndexEntry, error) {
	return s.index(ctx,
		"SELECT reference, id FROM products WHERE parent_id = 0 AND reference != '' ORDER BY id")
}

func (s *productStore) index(ctx context.Context, query string) ([]domain.IndexEntry, error) {
	rows, err := s.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	defer rows.Close()

	var out []domain.IndexEntry
	for rows.Next() {
		var e domain.IndexEntry
		if err := rows.Scan(&e.Key, &e.ID); err != nil {
			return nil, fmt.Errorf("scanning index: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating index: %w", err)
	}
	return out, nil
}

func encodeProductLists(p *domain.Product) (categories, images, attributes string, err error) {
	c, err := json.Marshal(p.Categories)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding categories: %w", err)
	}
	i, err := json.Marshal(p.Images)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding images: %w", err)
	}
	a, err := json.Marshal(p.Attributes)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(c), string(i), string(a), nil
}
