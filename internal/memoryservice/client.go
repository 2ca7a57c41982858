// Package memoryservice is a typed client for the long-term memory backend:
// an opaque remote service reached over HTTP. The gateway never inspects its
// storage model — it only forwards search/ingest requests and surfaces the
// backend's own errors.
package memoryservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomhq/loomgate/internal/providers"
)

// SearchRequest is forwarded to the backend's search endpoint verbatim.
type SearchRequest struct {
	Query     string `json:"query"`
	AgentID   string `json:"agent_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	MaxResults int   `json:"max_results,omitempty"`
}

// SearchResult is one hit in a SearchResponse.
type SearchResult struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the backend's reply to a search request.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// IngestRequest is forwarded to the backend's ingest endpoint verbatim.
type IngestRequest struct {
	AgentID string            `json:"agent_id,omitempty"`
	UserID  string            `json:"user_id,omitempty"`
	Content string            `json:"content"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// IngestResponse is the backend's reply to an ingest request.
type IngestResponse struct {
	ID string `json:"id"`
}

// Client is a thin, typed wrapper over the memory backend's HTTP API. It
// never interprets the payloads it carries — only marshals requests,
// forwards them, and decodes the shape the backend promises back.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retryConfig providers.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the client used for requests (tests supply a
// fake transport through this).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client bound to a memory backend at baseURL,
// authenticating with a bearer token. An empty baseURL yields a client
// whose calls always fail with ErrNotConfigured — callers use this to
// surface a clean 503 rather than a nil-pointer panic.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		retryConfig: providers.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ErrNotConfigured is returned when no memory backend URL is configured.
var ErrNotConfigured = fmt.Errorf("memoryservice: backend URL not configured")

// Configured reports whether a backend URL was supplied.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Search proxies a search request to the memory backend.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.doJSON(ctx, "POST", "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest proxies an ingest request to the memory backend.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	var out IngestResponse
	if err := c.doJSON(ctx, "POST", "/ingest", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("memoryservice: marshal request: %w", err)
	}

	respBody, err := providers.RetryDo(ctx, c.retryConfig, func() (io.ReadCloser, error) {
		return c.doRequest(ctx, method, path, data)
	})
	if err != nil {
		return err
	}
	defer respBody.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(respBody).Decode(out); err != nil {
		return fmt.Errorf("memoryservice: decode response: %w", err)
	}
	return nil
}

// Ping checks that the backend is reachable, for the doctor command's
// "memory reachability" check. It does not retry — a single failed probe
// is the answer.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("memoryservice: create request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("memoryservice: unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("memoryservice: unhealthy, status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("memoryservice: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("memoryservice: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		retryAfter := providers.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, &providers.HTTPError{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: retryAfter,
		}
	}

	return resp.Body, nil
}
