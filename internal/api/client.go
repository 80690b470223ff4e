package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/banshee-data/standoff/internal/httputil"
)

// Client talks to a running controller's HTTP API.
type Client struct {
	HTTP    httputil.HTTPClient
	BaseURL string
}

// NewClient returns a Client for baseURL, e.g. "http://localhost:8080".
func NewClient(hc httputil.HTTPClient, baseURL string) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{HTTP: hc, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// TrackingError fetches GET /api/tracking_error from sample index since.
func (c *Client) TrackingError(ctx context.Context, since int) (TrackingErrorResponse, error) {
	var out TrackingErrorResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tracking_error?since=%d", since), nil, &out)
	return out, err
}

// Inject posts a manual sensor update.
func (c *Client) Inject(ctx context.Context, req ObservationRequest) (InboxStats, error) {
	var stats InboxStats
	err := c.do(ctx, http.MethodPost, "/api/observation", req, &stats)
	return stats, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
