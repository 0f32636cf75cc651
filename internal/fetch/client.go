// Package fetch provides a bounded-retry HTTP client for upstream feed hosts.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMult = 2.0

	// maxBackoff caps the sleep between attempts regardless of configuration.
	maxBackoff = 30 * time.Second
)

// Client performs HTTP GET with bounded retries and exponential backoff.
// Any transient failure (timeout, connection error, non-2xx status) is
// retried; after maxRetries attempts the last error is surfaced.
type Client struct {
	client      *http.Client
	maxRetries  int
	backoffBase time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts (minimum 1).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxRetries = n
		}
	}
}

// WithBackoffBase sets the first retry delay.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = d
	}
}

// WithBackoffMult sets the backoff growth factor.
func WithBackoffMult(m float64) Option {
	return func(c *Client) {
		c.backoffMult = m
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a retrying fetch client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError marks a non-2xx response; it is retried like a network error.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.code, e.url)
}

// Get fetches url and returns the full response body. Attempt n sleeps
// backoffBase * backoffMult^(n-1) before retrying, capped at 30s.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("fetch %s: %d attempts exhausted: %w", url, c.maxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{code: resp.StatusCode, url: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// backoff returns the delay preceding the given retry (1-based).
func (c *Client) backoff(retry int) time.Duration {
	delay := c.backoffBase
	for i := 1; i < retry; i++ {
		delay = time.Duration(float64(delay) * c.backoffMult)
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
