// Package quantdash is a Go client for the quantdash-server HTTP API.
package quantdash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the quantdash-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new quantdash API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Panel returns a summary of the server's current price panel.
func (c *Client) Panel(ctx context.Context) (*PanelSummary, error) {
	var out PanelSummary
	if err := c.do(ctx, http.MethodGet, "/api/panel", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPanel replaces the server's panel with the long-format CSV read
// from r. With lenient set, malformed rows are dropped instead of
// rejecting the upload.
func (c *Client) UploadPanel(ctx context.Context, r io.Reader, lenient bool) (*UploadResult, error) {
	path := "/api/panel"
	if lenient {
		path += "?lenient=true"
	}
	var out UploadResult
	if err := c.do(ctx, http.MethodPost, path, "text/csv", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadSample replaces the server's panel with a synthetic one.
func (c *Client) LoadSample(ctx context.Context, days int, seed uint64) (*UploadResult, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	q.Set("seed", strconv.FormatUint(seed, 10))
	var out UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/sample?"+q.Encode(), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run executes a backtest on the current panel.
func (c *Client) Run(ctx context.Context, p Params) (*Result, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out Result
	if err := c.do(ctx, http.MethodPost, "/api/runs", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun fetches an archived run.
func (c *Client) GetRun(ctx context.Context, id string) (*Result, error) {
	var out Result
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns up to limit recent runs, newest first. limit <= 0
// uses the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	path := "/api/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []RunSummary
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRun removes an archived run.
func (c *Client) DeleteRun(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/runs/"+url.PathEscape(id), "", nil, nil)
}

// DownloadEquity copies a run's date,daily_pnl,equity CSV to w.
func (c *Client) DownloadEquity(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/equity.csv", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// send performs a request and converts non-2xx responses to *APIError.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode}
	var e struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &e) == nil && e.Kind != "" {
		apiErr.Kind, apiErr.Message = e.Kind, e.Error
	} else {
		apiErr.Kind, apiErr.Message = "http", strings.TrimSpace(string(data))
	}
	return nil, apiErr
}
