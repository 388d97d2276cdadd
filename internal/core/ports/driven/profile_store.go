package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// ProfileStore provides scope settings.
type ProfileStore interface {
	// Get returns the profile of a scope. The empty scope always resolves,
	// falling back to domain.DefaultProfile. Unknown scopes return domain.ErrNotFound.
	Get(ctx context.Context, scope string) (*domain.Profile, error)

	// List returns every configured profile.
	List(ctx context.Context) ([]domain.Profile, error)
}
