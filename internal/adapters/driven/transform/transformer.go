package transform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure Transformer implements the interface.
var _ driven.Transformer = (*Transformer)(nil)

// ContainerSuffix is appended to a grouping key to form the SKU of a
// container created before the catalog delivers it.
const ContainerSuffix = domain.SyntheticSuffix + "parent"

// Option configures a Transformer.
type Option func(*Transformer)

// WithTranslator sets the translator. Defaults to NoopTranslator.
func WithTranslator(t Translator) Option {
	return func(tr *Transformer) {
		tr.translator = t
	}
}

// WithPriceConverter sets the price converter. Defaults to an empty RateTable,
// which only accepts prices already in the profile currency.
func WithPriceConverter(c PriceConverter) Option {
	return func(tr *Transformer) {
		tr.prices = c
	}
}

// Transformer upserts catalog records into the product store.
type Transformer struct {
	store      driven.ProductStore
	translator Translator
	prices     PriceConverter
	now        func() time.Time
}

// New creates a transformer writing to store.
func New(store driven.ProductStore, opts ...Option) *Transformer {
	t := &Transformer{
		store:      store,
		translator: NoopTranslator{},
		prices:     RateTable{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TransformBatch implements driven.Transformer. Invalid records are counted
// as failed; a store error aborts the batch.
func (t *Transformer) TransformBatch(
	ctx context.Context,
	records []domain.RawRecord,
	profile domain.Profile,
	index driven.LookupIndex,
) (domain.BatchResult, error) {
	var result domain.BatchResult

	for _, raw := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		p, err := t.build(ctx, raw, profile)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		created, err := t.upsert(ctx, p, index)
		if err != nil {
			return result, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// build maps a raw record to a product without touching the store.
func (t *Transformer) build(ctx context.Context, raw domain.RawRecord, profile domain.Profile) (*domain.Product, error) {
	rec, err := Normalize(raw, profile.Language)
	if err != nil {
		return nil, err
	}

	if needsTranslation(rec.Language, profile.Language) {
		if rec.Name, err = t.translator.Translate(ctx, rec.Name, rec.Language, profile.Language); err != nil {
			return nil, fmt.Errorf("translate %s: %w", rec.key(), err)
		}
		if rec.Description != "" {
			if rec.Description, err = t.translator.Translate(ctx, rec.Description, rec.Language, profile.Language); err != nil {
				return nil, fmt.Errorf("translate %s: %w", rec.key(), err)
			}
		}
	}

	currency := rec.Currency
	if currency == "" {
		currency = profile.Currency
	}
	price, err := t.prices.Convert(rec.Price, currency, profile.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, rec.key(), err)
	}

	return &domain.Product{
		SKU:         rec.SKU,
		Reference:   rec.Reference,
		Name:        rec.Name,
		Description: rec.Description,
		Language:    profile.Language,
		Price:       roundPrice(price * profile.Multiplier()),
		Currency:    profile.Currency,
		Stock:       rec.Stock,
		Categories:  rec.Categories,
		Images:      rec.Images,
		Attributes:  rec.Attributes,
		UpdatedAt:   t.now(),
	}, nil
}

// upsert resolves the product's identity and parent, writes it and records
// its keys in the index.
func (t *Transformer) upsert(ctx context.Context, p *domain.Product, index driven.LookupIndex) (bool, error) {
	base := domain.ReferenceBase(p.Reference)
	variant := p.Reference != "" && p.Reference != base

	if id, ok := index.FindBySKU(p.SKU); ok {
		p.ID = id
	} else if id, ok := index.FindByReference(p.Reference); ok {
		p.ID = id
	} else if !variant {
		// A top-level record replaces a container created for its variants.
		if id, ok := index.FindByReferenceBase(base); ok {
			p.ID = id
		}
	}
	if !variant && p.ID != 0 && p.SKU != "" {
		index.RemoveSKU(base + ContainerSuffix)
	}

	if variant {
		parentID, err := t.container(ctx, p, base, index)
		if err != nil {
			return false, err
		}
		p.ParentID = parentID
	}

	id, created, err := t.store.SaveProduct(ctx, p)
	if errors.Is(err, domain.ErrNotFound) {
		// The cached id was deleted from the store since the cache warmed.
		p.ID = 0
		id, created, err = t.store.SaveProduct(ctx, p)
	}
	if err != nil {
		return false, fmt.Errorf("save product %s: %w", p.SKU, err)
	}

	groupKey := ""
	if !variant {
		groupKey = base
	}
	index.Record(id, p.SKU, p.Reference, groupKey)
	return created, nil
}

// container returns the id of the variant's container, creating a
// placeholder when none exists yet.
func (t *Transformer) container(ctx context.Context, p *domain.Product, base string, index driven.LookupIndex) (int64, error) {
	if base == "" {
		return 0, nil
	}
	if id, ok := index.FindByReferenceBase(base); ok {
		return id, nil
	}

	placeholder := &domain.Product{
		SKU:        base + ContainerSuffix,
		Reference:  base,
		Name:       p.Name,
		Language:   p.Language,
		Price:      p.Price,
		Currency:   p.Currency,
		Categories: p.Categories,
		Images:     p.Images,
		UpdatedAt:  p.UpdatedAt,
	}
	id, _, err := t.store.SaveProduct(ctx, placeholder)
	if err != nil {
		return 0, fmt.Errorf("save container %s: %w", base, err)
	}
	index.Record(id, placeholder.SKU, placeholder.Reference, base)
	logger.Debug("transform: created container %s for %s", placeholder.SKU, p.Reference)
	return id, nil
}
