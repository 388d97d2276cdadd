package catalog

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRate is the proactive throttle rate in requests per second.
	DefaultRate = 5.0

	// DefaultBurst is the token bucket size.
	DefaultBurst = 5

	// MinBuffer is the minimum remaining requests before waiting for reset.
	MinBuffer = 2

	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"

	// HeaderRetryAfter is the retry-after header (seconds).
	HeaderRetryAfter = "Retry-After"
)

// RateLimiter throttles requests with a token bucket and backs off when the
// API reports that its quota is nearly spent.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given burst.
// Non-positive values use DefaultRate and DefaultBurst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		remaining: -1, // unknown until the first response
		bucket:    rate.NewLimiter(rate.Limit(perSecond), burst),
		minBuffer: MinBuffer,
	}
}

// Wait blocks until it's safe to make a request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining >= 0 && remaining < r.minBuffer && time.Now().Before(resetTime) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resetTime)):
		}
	}
	return nil
}

// UpdateFromResponse updates quota state from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(HeaderRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
		}
	}
	if reset := resp.Header.Get(HeaderRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

// Remaining returns the last reported remaining quota, or -1 when unknown.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}

// retryAfterSeconds parses a Retry-After header given in seconds.
// Missing or malformed values yield fallback.
func retryAfterSeconds(resp *http.Response, fallback int) int {
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
			return seconds
		}
	}
	return fallback
}
