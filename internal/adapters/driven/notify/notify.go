package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure notifiers implement the interface.
var (
	_ driven.Notifier = (*LogNotifier)(nil)
	_ driven.Notifier = (*WebhookNotifier)(nil)
	_ driven.Notifier = Multi(nil)
)

// LogNotifier reports failures through the logger.
type LogNotifier struct{}

// NotifyFailure implements driven.Notifier.
func (LogNotifier) NotifyFailure(_ context.Context, s domain.Session) error {
	logger.ForSession(s.ID, s.Scope).Error("sync session failed",
		"error", s.Error,
		"page", s.Page,
		"offset", s.Offset,
		"processed", s.Processed,
		"failures", s.ConsecutiveFailures,
	)
	return nil
}

// Payload is the JSON body posted by WebhookNotifier.
type Payload struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	Scope     string    `json:"scope"`
	Type      string    `json:"type"`
	Error     string    `json:"error"`
	Page      int       `json:"page"`
	Offset    int       `json:"offset"`
	Processed int       `json:"processed"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
	FailedAt  time.Time `json:"failed_at"`
}

// WebhookNotifier POSTs failures to a URL.
type WebhookNotifier struct {
	url      string
	client   *http.Client
	maxTries uint
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier. A nil client uses a client
// with a ten second timeout.
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookNotifier{url: url, client: client, maxTries: 3, now: time.Now}
}

// NotifyFailure implements driven.Notifier.
func (w *WebhookNotifier) NotifyFailure(ctx context.Context, s domain.Session) error {
	body, err := json.Marshal(Payload{
		Event:     "sync.failed",
		SessionID: s.ID,
		Scope:     domain.ScopeName(s.Scope),
		Type:      string(s.Type),
		Error:     s.Error,
		Page:      s.Page,
		Offset:    s.Offset,
		Processed: s.Processed,
		Created:   s.Created,
		Updated:   s.Updated,
		Failed:    s.Failed,
		StartedAt: s.StartedAt,
		FailedAt:  w.now(),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("webhook returned %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(w.maxTries))
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	return nil
}

// Multi notifies every notifier and joins their errors.
type Multi []driven.Notifier

// NotifyFailure implements driven.Notifier.
func (m Multi) NotifyFailure(ctx context.Context, s domain.Session) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyFailure(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
