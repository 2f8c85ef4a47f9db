// Package notion implements upstream.Fetcher against the Notion database API.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"boardcache/internal/ratelimit"
	"boardcache/internal/resource"
	"boardcache/internal/upstream"
)

const (
	// DefaultBaseURL is the Notion API base URL.
	DefaultBaseURL = "https://api.notion.com"
	// DefaultAPIVersion is the Notion-Version header value.
	DefaultAPIVersion = "2022-06-28"
	// pageSize is the maximum page size the database query endpoint allows.
	pageSize = 100
)

// Config holds Notion connection settings.
type Config struct {
	Token      string
	BaseURL    string // Override for testing
	APIVersion string
	// Databases maps each resource type to the database it is fetched from.
	Databases map[resource.Type]string

	MaxRetries   int
	RetryDelay   time.Duration
	EnableJitter bool
	// OnRetry is forwarded to the rate-limiting client.
	OnRetry func(status int, delay time.Duration)

	// Now is the clock used for overdue computation. Defaults to time.Now.
	Now func() time.Time
}

// Client implements upstream.Fetcher using the Notion database query API.
type Client struct {
	config  Config
	client  *ratelimit.Client
	baseURL string
	now     func() time.Time
}

// New creates a Notion fetcher.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("notion API token is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		config: cfg,
		client: ratelimit.NewClient(ratelimit.Config{
			MaxRetries:   cfg.MaxRetries,
			BaseDelay:    cfg.RetryDelay,
			EnableJitter: cfg.EnableJitter,
			Upstream:     "notion",
			OnRetry:      cfg.OnRetry,
		}),
		baseURL: baseURL,
		now:     now,
	}, nil
}

// FetchAll retrieves and flattens every record of the given resource type.
// The result covers the complete database: pagination failures abort the
// whole fetch rather than returning a partial set.
func (c *Client) FetchAll(ctx context.Context, res resource.Type) ([]json.RawMessage, error) {
	dbID, ok := c.config.Databases[res]
	if !ok || dbID == "" {
		return nil, upstream.NewPermanent(res, fmt.Errorf("no database configured for %s", res))
	}

	pages, err := c.queryAll(ctx, res, dbID)
	if err != nil {
		return nil, err
	}

	records := make([]json.RawMessage, 0, len(pages))
	for _, p := range pages {
		var doc any
		switch res {
		case resource.Projects:
			doc = c.parseProject(p)
		case resource.Tasks:
			doc = c.parseTask(p)
		case resource.Todos:
			doc = c.parseTodo(p)
		case resource.Members:
			doc = c.parseMember(p)
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, upstream.NewPermanent(res, fmt.Errorf("encode record: %w", err))
		}
		records = append(records, raw)
	}

	return records, nil
}

// queryAll walks the database query cursor until has_more is false.
func (c *Client) queryAll(ctx context.Context, res resource.Type, dbID string) ([]page, error) {
	url := c.baseURL + "/v1/databases/" + dbID + "/query"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)
	header.Set("Notion-Version", c.config.APIVersion)
	header.Set("Content-Type", "application/json")

	var all []page
	cursor := ""

	for {
		reqBody := map[string]any{"page_size": pageSize}
		if cursor != "" {
			reqBody["start_cursor"] = cursor
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			return nil, upstream.NewPermanent(res, err)
		}

		resp, err := c.client.Do(ctx, http.MethodPost, url, header, body)
		if err != nil {
			return nil, upstream.NewTransient(res, err)
		}

		result, err := decodeQueryResponse(resp, res)
		if err != nil {
			return nil, err
		}

		all = append(all, result.Results...)
		if !result.HasMore || result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// queryResponse is one page of a database query.
type queryResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func decodeQueryResponse(resp *http.Response, res resource.Type) (*queryResponse, error) {
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, upstream.NewPermanent(res, fmt.Errorf("authentication failed: status %d", resp.StatusCode))
	case http.StatusBadRequest, http.StatusNotFound:
		return nil, upstream.NewPermanent(res, fmt.Errorf("database query rejected: status %d", resp.StatusCode))
	default:
		return nil, upstream.NewTransient(res, fmt.Errorf("database query failed: status %d", resp.StatusCode))
	}

	var result queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, upstream.NewTransient(res, fmt.Errorf("decode query response: %w", err))
	}
	return &result, nil
}
