// Package hass is the Home Assistant client: a REST surface for one-shot
// reads and writes, and a websocket Socket that feeds the live sync engine
// with state batches. Retry policy for REST calls belongs to the injected
// http.Client; the sync engine's reconnect loop owns websocket recovery.
package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/hearth/pkg/entity"
)

// Client calls the Home Assistant HTTP API. BaseURL has no trailing slash;
// Token is a long-lived access token sent as a bearer credential.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a Client for the given base URL and access token.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token}
}

// httpClient returns the configured client or a cached default with a
// 30-second timeout.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	c.clientOnce.Do(func() {
		c.defaultClient = &http.Client{Timeout: 30 * time.Second}
	})

	return c.defaultClient
}

// newRequest builds an *http.Request with the base URL and bearer auth
// applied.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	return req, nil
}

// getJSON sends a GET to path, checks for a 2xx status, and unmarshals the
// response body into dest.
func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("hass: build request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("hass: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hass: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("hass: decode response: %w", err)
	}

	return nil
}

// postJSON marshals payload, sends a POST to path, checks for a 2xx status,
// and unmarshals the response body into dest when dest is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hass: marshal payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hass: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("hass: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hass: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("hass: decode response: %w", err)
	}

	return nil
}

// CheckAPI verifies the API is reachable and the token is accepted.
func (c *Client) CheckAPI(ctx context.Context) error {
	return c.getJSON(ctx, "/api/", nil)
}

// States returns the current state object of every entity.
func (c *Client) States(ctx context.Context) ([]entity.Entity, error) {
	var out []entity.Entity
	if err := c.getJSON(ctx, "/api/states", &out); err != nil {
		return nil, err
	}

	return out, nil
}

// State returns the current state object of one entity.
func (c *Client) State(ctx context.Context, entityID string) (entity.Entity, error) {
	var out entity.Entity
	if err := c.getJSON(ctx, "/api/states/"+entityID, &out); err != nil {
		return entity.Entity{}, err
	}

	return out, nil
}

// SetState writes a state object for an entity, creating the entity if it
// does not exist. This updates Home Assistant's state machine directly and
// does not talk to any device.
func (c *Client) SetState(ctx context.Context, entityID, state string, attributes map[string]any) (entity.Entity, error) {
	payload := map[string]any{"state": state}
	if attributes != nil {
		payload["attributes"] = attributes
	}

	var out entity.Entity
	if err := c.postJSON(ctx, "/api/states/"+entityID, payload, &out); err != nil {
		return entity.Entity{}, err
	}

	return out, nil
}

// CallService invokes a service in a domain (e.g. "light", "turn_on") with
// the given service data. It returns the state objects the call changed.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) ([]entity.Entity, error) {
	if data == nil {
		data = map[string]any{}
	}

	var out []entity.Entity
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	if err := c.postJSON(ctx, path, data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// Config holds the subset of the instance configuration the tools surface.
type Config struct {
	LocationName string `json:"location_name"`
	Version      string `json:"version"`
	TimeZone     string `json:"time_zone"`
	State        string `json:"state"`
}

// GetConfig returns the instance configuration.
func (c *Client) GetConfig(ctx context.Context) (Config, error) {
	var out Config
	if err := c.getJSON(ctx, "/api/config", &out); err != nil {
		return Config{}, err
	}

	return out, nil
}

// ErrorLog returns the raw error log as plain text.
func (c *Client) ErrorLog(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/error_log", nil)
	if err != nil {
		return "", fmt.Errorf("hass: build request: %w", err)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("hass: do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("hass: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("hass: read response: %w", err)
	}

	return string(body), nil
}

// wsURL converts the BaseURL to the websocket API URL. https becomes wss,
// http becomes ws.
func (c *Client) wsURL() string {
	u := c.BaseURL + "/api/websocket"

	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}

	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}

	return u
}
