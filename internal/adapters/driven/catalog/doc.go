// Package catalog provides the HTTP client for the external catalog API.
//
// Requests are throttled by a token bucket, authenticated with OAuth2 client
// credentials when configured, and retried with exponential backoff on
// transient failures. A 429 response is retried after its Retry-After delay.
package catalog
