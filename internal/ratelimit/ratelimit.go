// Package ratelimit provides an HTTP client that absorbs upstream rate limiting
// and transient server errors with exponential backoff.
package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Config holds configuration for the retrying HTTP client.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after a retryable
	// response (429 or 5xx). Default: 5.
	MaxRetries int

	// BaseDelay is the initial delay before the first retry. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries. Default: 32s.
	MaxDelay time.Duration

	// EnableJitter adds random jitter (±20%) to prevent thundering herd.
	EnableJitter bool

	// Timeout is the per-request timeout. Default: 30s.
	Timeout time.Duration

	// Upstream names the remote service for error messages.
	Upstream string

	// OnRetry, if set, is called before each backoff sleep with the HTTP
	// status that triggered it and the chosen delay.
	OnRetry func(status int, delay time.Duration)
}

// Client is an HTTP client that retries rate-limited and transiently failing
// requests. Responses with any other status are returned to the caller as-is.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	enableJitter bool
	upstream     string
	onRetry      func(status int, delay time.Duration)
}

// NewClient creates a retrying HTTP client from cfg, applying defaults for
// unset fields.
func NewClient(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 32 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		enableJitter: cfg.EnableJitter,
		upstream:     cfg.Upstream,
		onRetry:      cfg.OnRetry,
	}
}

// retryable reports whether a status code is worth retrying. Client errors
// other than 429 are the caller's problem (bad token, bad request) and are
// returned immediately.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do performs an HTTP request, replaying it with backoff while the upstream
// answers 429 or 5xx. The request body, if any, is buffered by the caller so
// it can be re-sent on retry. Header may be nil.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		lastStatus = resp.StatusCode
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		_ = resp.Body.Close()

		if attempt >= c.maxRetries {
			break
		}

		delay := c.calculateBackoff(attempt, retryAfter)
		if c.onRetry != nil {
			c.onRetry(lastStatus, delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, &RetriesExhaustedError{
		Upstream:    c.upstream,
		LastStatus:  lastStatus,
		MaxAttempts: c.maxRetries,
	}
}

// calculateBackoff computes the backoff duration for a given attempt. A
// Retry-After hint from the upstream takes precedence over the computed delay.
func (c *Client) calculateBackoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}

	delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}

	if c.enableJitter {
		jitterFactor := 0.8 + rand.Float64()*0.4 // 0.8 to 1.2
		delay = time.Duration(float64(delay) * jitterFactor)
	}

	return delay
}

// RetriesExhaustedError is returned when every retry attempt was consumed by
// 429/5xx responses.
type RetriesExhaustedError struct {
	Upstream    string
	LastStatus  int
	MaxAttempts int
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	upstream := e.Upstream
	if upstream == "" {
		upstream = "upstream"
	}
	return fmt.Sprintf("%s still answering %d after %d retries", upstream, e.LastStatus, e.MaxAttempts)
}

// ParseRetryAfter parses a Retry-After header value. It supports both the
// seconds format (integer) and the HTTP-date format. Returns nil if the value
// is invalid or empty.
func ParseRetryAfter(value string) *time.Duration {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}

	return nil
}
