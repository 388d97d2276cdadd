package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
)

// RateLimitError reports a 429 response that exhausted the retries.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog: rate limited, retry after %s", e.RetryAfter)
}

// Is makes RateLimitError match domain.ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == domain.ErrRateLimited
}

// APIError represents a non-success catalog API response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// IsTransient reports whether a request that failed with err may succeed if repeated.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return !errors.Is(err, domain.ErrInvalidInput)
}
