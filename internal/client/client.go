// Package client is a typed HTTP client for the boardcache server API,
// used by the CLI and the status dashboard.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"boardcache/internal/resource"
	"boardcache/internal/utils"
)

// Client talks to one boardcache server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at addr. addr may be a host:port or
// a full URL.
func New(addr string) *Client {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Freshness mirrors the server's per-resource freshness entry.
type Freshness struct {
	Resource    resource.Type `json:"resource"`
	Populated   bool          `json:"populated"`
	Version     int64         `json:"version"`
	FetchedAt   *time.Time    `json:"fetched_at"`
	AgeSeconds  float64       `json:"age_seconds"`
	Stale       bool          `json:"stale"`
	Checksum    string        `json:"checksum"`
	RecordCount int           `json:"record_count"`
	Refreshing  bool          `json:"refreshing"`
	LastError   string        `json:"last_error"`
}

// RefreshResult mirrors the server's refresh response.
type RefreshResult struct {
	Resource   resource.Type `json:"resource"`
	Outcome    string        `json:"outcome"`
	Version    int64         `json:"version"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error"`
}

// Snapshot mirrors the server's snapshot response.
type Snapshot struct {
	Resource    resource.Type     `json:"resource"`
	Version     int64             `json:"version"`
	FetchedAt   time.Time         `json:"fetched_at"`
	RecordCount int               `json:"record_count"`
	Records     []json.RawMessage `json:"records"`
}

// SnapshotFilter holds the query parameters for a snapshot read.
type SnapshotFilter struct {
	Status    string
	Assignee  string
	DueBefore string
	DueAfter  string
	Overdue   string // "", "true", or "false"
}

func (f SnapshotFilter) query() string {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Assignee != "" {
		q.Set("assignee", f.Assignee)
	}
	if f.DueBefore != "" {
		q.Set("due_before", f.DueBefore)
	}
	if f.DueAfter != "" {
		q.Set("due_after", f.DueAfter)
	}
	if f.Overdue != "" {
		q.Set("overdue", f.Overdue)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

type apiError struct {
	Error string `json:"error"`
}

// get issues a GET and decodes a 200 response into out. Other statuses
// surface the server's error message.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.ErrServerUnreachable(c.baseURL)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Freshness fetches the freshness of every resource.
func (c *Client) Freshness(ctx context.Context) ([]Freshness, error) {
	var out struct {
		Resources []Freshness `json:"resources"`
	}
	if err := c.get(ctx, "/v1/freshness", &out); err != nil {
		return nil, err
	}
	return out.Resources, nil
}

// FreshnessFor fetches the freshness of one resource.
func (c *Client) FreshnessFor(ctx context.Context, res resource.Type) (*Freshness, error) {
	var out Freshness
	if err := c.get(ctx, "/v1/freshness/"+string(res), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot fetches the current snapshot of a resource with the filter
// applied server-side.
func (c *Client) Snapshot(ctx context.Context, res resource.Type, filter SnapshotFilter) (*Snapshot, error) {
	var out Snapshot
	if err := c.get(ctx, "/v1/snapshot/"+string(res)+filter.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh triggers a refresh of one resource and waits for its outcome.
// Failure outcomes are reported in the result, not as an error; err is
// reserved for transport problems.
func (c *Client) Refresh(ctx context.Context, res resource.Type) (*RefreshResult, error) {
	resp, err := c.post(ctx, "/v1/refresh/"+string(res))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	var result RefreshResult
	if err := json.Unmarshal(body, &result); err == nil && result.Outcome != "" {
		return &result, nil
	}
	return nil, refreshError(body, resp.StatusCode)
}

// RefreshAll triggers a refresh of every resource.
func (c *Client) RefreshAll(ctx context.Context) ([]RefreshResult, error) {
	resp, err := c.post(ctx, "/v1/refresh")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}

	var out struct {
		Results []RefreshResult `json:"results"`
	}
	if err := json.Unmarshal(body, &out); err == nil && len(out.Results) > 0 {
		return out.Results, nil
	}
	return nil, refreshError(body, resp.StatusCode)
}

// refreshError surfaces the server's JSON error for a response that does
// not carry a refresh outcome.
func refreshError(body []byte, status int) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("%s", apiErr.Error)
	}
	return fmt.Errorf("server returned status %d", status)
}

func (c *Client) post(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.ErrServerUnreachable(c.baseURL)
	}
	return resp, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.get(ctx, "/healthz", &out)
}
