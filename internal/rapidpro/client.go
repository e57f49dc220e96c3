// Package rapidpro is a minimal client for the RapidPro v2 REST API.
//
// It covers the two endpoints RunPipe needs: flows.json to list and sample
// flows, and runs.json to walk every run of a flow page by page. Requests are
// authenticated with the account's API token and are issued strictly one at a
// time.
package rapidpro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/RunPipe/internal/models"
)

// Constants for the RapidPro client
const (
	// DefaultTimeout bounds a single HTTP request, not a whole page chain.
	DefaultTimeout = 60 * time.Second
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "RunPipe/1.0"
	// FlowsPath is the flows endpoint relative to the base URL.
	FlowsPath = "/api/v2/flows.json"
	// RunsPath is the runs endpoint relative to the base URL.
	RunsPath = "/api/v2/runs.json"
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4096
)

// HTTPClient is the transport the client issues requests through.
// *http.Client satisfies it; tests substitute their own.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Opts holds configuration options for the RapidPro client.
type Opts struct {
	HTTPClient HTTPClient
	Timeout    time.Duration
	UserAgent  string
}

// Option defines a configuration option for the RapidPro client.
type Option func(*Opts)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(c HTTPClient) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout sets the per-request timeout of the default *http.Client.
// It has no effect when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *Opts) { o.UserAgent = ua }
}

// Client talks to a RapidPro installation. It holds no per-account state:
// base URL and token come from the ConnectionConfig passed to each call.
type Client struct {
	http      HTTPClient
	userAgent string
}

// NewClient creates a new RapidPro client, applying any provided options.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("RapidPro NewClient options set", "timeout", cfg.Timeout, "user_agent", cfg.UserAgent)
	return &Client{http: cfg.HTTPClient, userAgent: cfg.UserAgent}
}

// APIError is returned when RapidPro answers with a non-2xx status.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rapidpro: GET %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Unauthorized reports whether the token was rejected.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// flowsResponse is the body of flows.json.
type flowsResponse struct {
	Results []models.Flow `json:"results"`
	Next    string        `json:"next"`
}

// ListFlows returns the account's active (non archived) flows. Only the first
// page of flows.json is read.
func (c *Client) ListFlows(ctx context.Context, cfg models.ConnectionConfig) ([]models.Flow, error) {
	if err := cfg.ValidateAccount(); err != nil {
		return nil, err
	}
	var resp flowsResponse
	if err := c.getJSON(ctx, cfg, cfg.BaseURL()+FlowsPath+"?archived=false", &resp); err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	slog.Debug("RapidPro.ListFlows succeeded", "count", len(resp.Results))
	return resp.Results, nil
}

// GetFlow returns the configured flow, including its result definitions, or
// nil when the API returns no flow for the UUID.
func (c *Client) GetFlow(ctx context.Context, cfg models.ConnectionConfig) (*models.Flow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var resp flowsResponse
	u := cfg.BaseURL() + FlowsPath + "?uuid=" + url.QueryEscape(cfg.FlowUUID)
	if err := c.getJSON(ctx, cfg, u, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch flow %s: %w", cfg.FlowUUID, err)
	}
	if len(resp.Results) == 0 {
		slog.Debug("RapidPro.GetFlow found no flow", "flow_uuid", cfg.FlowUUID)
		return nil, nil
	}
	flow := resp.Results[0]
	slog.Debug("RapidPro.GetFlow succeeded", "flow_uuid", flow.UUID, "results", len(flow.Results))
	return &flow, nil
}

// getJSON issues an authenticated GET and decodes the JSON body into v.
func (c *Client) getJSON(ctx context.Context, cfg models.ConnectionConfig, rawURL string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("RapidPro request failed", "url", rawURL, "error", err)
		return fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()
	slog.Debug("RapidPro response received", "url", rawURL, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.Warn("RapidPro returned non-2xx status", "url", rawURL, "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, URL: rawURL, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}
