package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure Client implements the interface.
var _ driven.CatalogClient = (*Client)(nil)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxTries is the default number of attempts per request.
	MaxTries = 3

	// RetryDelay is the initial delay between attempts.
	RetryDelay = 500 * time.Millisecond

	// maxErrorBody caps how much of an error response is kept in APIError.
	maxErrorBody = 512
)

// Config configures the catalog client.
type Config struct {
	// BaseURL is the API root, e.g. https://catalog.example.com/api/v1.
	BaseURL string

	// TokenURL, ClientID and ClientSecret enable OAuth2 client credentials.
	// Requests are unauthenticated when ClientID is empty.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// RateLimit is the request rate in requests per second.
	RateLimit float64
	Burst     int

	Timeout    time.Duration
	MaxTries   uint
	RetryDelay time.Duration

	// HTTPClient overrides the transport. OAuth2 wraps it when configured.
	HTTPClient *http.Client
}

// Client fetches products, categories and stock from the catalog API.
type Client struct {
	baseURL    *url.URL
	http       *http.Client
	limiter    *RateLimiter
	maxTries   uint
	retryDelay time.Duration
}

// NewClient creates a catalog client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base URL: %w", domain.ErrInvalidInput)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// The token client reuses the configured transport.
		httpClient = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, httpClient))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient.Timeout = cfg.Timeout

	if cfg.MaxTries == 0 {
		cfg.MaxTries = MaxTries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}

	return &Client{
		baseURL:    base,
		http:       httpClient,
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.Burst),
		maxTries:   cfg.MaxTries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// FetchPage fetches one page of products. The API numbers pages from one.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int, filter domain.PageFilter) ([]domain.RawRecord, error) {
	q := url.Values{}
	for k, v := range filter.Filters {
		q.Set(k, v)
	}
	q.Set("page", strconv.Itoa(page+1))
	q.Set("per_page", strconv.Itoa(pageSize))
	if !filter.ModifiedSince.IsZero() {
		q.Set("modified_since", filter.ModifiedSince.UTC().Format(time.RFC3339))
	}

	var records []domain.RawRecord
	if err := c.getList(ctx, "products", q, &records); err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	return records, nil
}

type categoryItem struct {
	ID       flexString `json:"id"`
	ParentID flexString `json:"parent_id"`
	Name     string     `json:"name"`
	Position int        `json:"position"`
}

// FetchCategoryTree fetches every category, ordered parents first.
func (c *Client) FetchCategoryTree(ctx context.Context) ([]domain.Category, error) {
	var items []categoryItem
	if err := c.getList(ctx, "categories", nil, &items); err != nil {
		return nil, fmt.Errorf("fetch categories: %w", err)
	}

	categories := make([]domain.Category, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		categories = append(categories, domain.Category{
			ExternalID: string(it.ID),
			ParentID:   string(it.ParentID),
			Name:       it.Name,
			Position:   it.Position,
		})
	}
	return parentsFirst(categories), nil
}

type stockItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// FetchStock fetches stock quantities for the given SKUs.
func (c *Client) FetchStock(ctx context.Context, skus []string) (map[string]int, error) {
	levels := make(map[string]int, len(skus))
	if len(skus) == 0 {
		return levels, nil
	}

	var items []stockItem
	q := url.Values{"sku": {strings.Join(skus, ",")}}
	if err := c.getList(ctx, "stock", q, &items); err != nil {
		return nil, fmt.Errorf("fetch stock: %w", err)
	}
	for _, it := range items {
		if it.SKU != "" {
			levels[it.SKU] = it.Quantity
		}
	}
	return levels, nil
}

// getList fetches a resource whose body is either a bare JSON array or an
// object with the array under "data", and decodes the array into out.
func (c *Client) getList(ctx context.Context, resource string, q url.Values, out any) error {
	body, err := c.get(ctx, resource, q)
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return fmt.Errorf("decode %s: %w", resource, err)
		}
		trimmed = envelope.Data
	}
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode %s: %w", resource, err)
	}
	return nil
}

// get performs a throttled GET with retries and returns the response body.
func (c *Client) get(ctx context.Context, resource string, q url.Values) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + resource
	if q != nil {
		u.RawQuery = q.Encode()
	}
	target := u.String()

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			logger.Debug("catalog: GET %s attempt %d failed: %v", resource, attempt, err)
			return nil, err
		}
		defer resp.Body.Close()
		c.limiter.UpdateFromResponse(resp)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			seconds := retryAfterSeconds(resp, max(1, int(c.retryDelay/time.Second)))
			logger.Debug("catalog: GET %s rate limited, retry after %ds", resource, seconds)
			return nil, backoff.RetryAfter(seconds)
		case resp.StatusCode >= 500:
			return nil, &APIError{StatusCode: resp.StatusCode, Message: truncate(body), URL: target}
		case resp.StatusCode >= 300:
			return nil, backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: truncate(body), URL: target})
		}
		return body, nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryDelay
	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) {
			return nil, &RateLimitError{RetryAfter: retryAfter.Duration}
		}
		return nil, err
	}
	return body, nil
}

// ==================== Helper Functions ====================

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// parentsFirst orders categories so every parent precedes its children.
// Categories whose parent is unknown are treated as roots. Siblings keep
// their position order.
func parentsFirst(categories []domain.Category) []domain.Category {
	known := make(map[string]bool, len(categories))
	children := make(map[string][]domain.Category)
	for _, c := range categories {
		known[c.ExternalID] = true
	}
	for _, c := range categories {
		parent := c.ParentID
		if parent == c.ExternalID || !known[parent] {
			parent = ""
		}
		children[parent] = append(children[parent], c)
	}
	for _, list := range children {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })
	}

	ordered := make([]domain.Category, 0, len(categories))
	visited := make(map[string]bool, len(categories))
	queue := []string{""}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, c := range children[parent] {
			if visited[c.ExternalID] {
				continue
			}
			visited[c.ExternalID] = true
			ordered = append(ordered, c)
			queue = append(queue, c.ExternalID)
		}
	}
	// Categories caught in a parent cycle are appended as they came.
	for _, c := range categories {
		if !visited[c.ExternalID] {
			visited[c.ExternalID] = true
			ordered = append(ordered, c)
		}
	}
	return ordered
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
