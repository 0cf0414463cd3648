// Package logsearch is the client for the log-search service: structured
// queries over the home's aggregated service logs. It is plain REST glue;
// retry policy belongs to the injected http.Client.
package logsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Query selects log entries. Zero fields are omitted from the request.
type Query struct {
	Text  string    `json:"text,omitempty"`
	Level string    `json:"level,omitempty"`
	Since time.Time `json:"since,omitzero"`
	Until time.Time `json:"until,omitzero"`
	Limit int       `json:"limit,omitempty"`
}

// Entry is one log line with its parsed metadata.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Client calls the log-search HTTP API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a Client for the given base URL and API token.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	c.clientOnce.Do(func() {
		c.defaultClient = &http.Client{Timeout: 30 * time.Second}
	})

	return c.defaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("logsearch: build request: %w", err)
	}

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("logsearch: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("logsearch: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("logsearch: decode response: %w", err)
	}

	return nil
}

// Search returns the entries matching q, newest first.
func (c *Client) Search(ctx context.Context, q Query) ([]Entry, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("logsearch: marshal query: %w", err)
	}

	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}

	return out.Entries, nil
}

// Tail returns the most recent limit entries across all sources.
func (c *Client) Tail(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var out struct {
		Entries []Entry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tail?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}

	return out.Entries, nil
}
