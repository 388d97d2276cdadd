package driven

import (
	"context"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// Notifier announces failed sessions to operators.
type Notifier interface {
	NotifyFailure(ctx context.Context, session domain.Session) error
}
