package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

func TestProductStore_SaveAndIndexes(t *testing.T) {
	s := NewProductStore()
	ctx := context.Background()

	parentID, created, err := s.SaveProduct(ctx, &domain.Product{SKU: "A100#parent", Reference: "A100"})
	require.NoError(t, err)
	assert.True(t, created)

	childID, created, err := s.SaveProduct(ctx, &domain.Product{SKU: "A100-RED", Reference: "A100/RED", ParentID: parentID})
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = s.SaveProduct(ctx, &domain.Product{Reference: "B200"})
	require.NoError(t, err)

	skus, err := s.SKUIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.IndexEntry{{Key: "A100#parent", ID: parentID}, {Key: "A100-RED", ID: childID}}, skus)

	refs, err := s.ReferenceIndex(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	groups, err := s.GroupingIndex(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "A100", groups[0].Key)
	assert.Equal(t, "B200", groups[1].Key)

	n, err := s.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestProductStore_UpdateExisting(t *testing.T) {
	s := NewProductStore()
	ctx := context.Background()

	id, _, err := s.SaveProduct(ctx, &domain.Product{SKU: "X", Name: "old"})
	require.NoError(t, err)

	again, created, err := s.SaveProduct(ctx, &domain.Product{ID: id, SKU: "X", Name: "new"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	p, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", p.Name)

	_, _, err = s.SaveProduct(ctx, &domain.Product{ID: 999})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductStore_UpdateStock(t *testing.T) {
	s := NewProductStore()
	ctx := context.Background()
	id, _, _ := s.SaveProduct(ctx, &domain.Product{SKU: "X"})

	require.NoError(t, s.UpdateStock(ctx, id, 12))
	p, _ := s.GetProduct(ctx, id)
	assert.Equal(t, 12, p.Stock)

	assert.ErrorIs(t, s.UpdateStock(ctx, 42, 1), domain.ErrNotFound)
}

func TestProductStore_SaveCategories(t *testing.T) {
	s := NewProductStore()
	n, err := s.SaveCategories(context.Background(), []domain.Category{
		{ExternalID: "2", ParentID: "1", Name: "Shoes"},
		{ExternalID: "1", Name: "Clothing"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cats := s.Categories()
	require.Len(t, cats, 2)
	assert.Equal(t, "Clothing", cats[0].Name)
}
