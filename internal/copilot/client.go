// Package copilot implements the HTTP client for the coding-assistant
// completion backend: the completion endpoint (JSON and SSE), the model
// catalogue, and the token-refresh/device-login auth endpoints.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuegongzi/copilot-api/internal/canonical"
)

const (
	defaultBaseURL   = "https://api.business.githubcopilot.com"
	completionsPath  = "/agent/v1/completions"
	modelsPath       = "/agent/v1/models"
	editorVersion    = "vscode/1.96.0"
	userAgentHeader  = "copilot-api/1.0"
	integrationIDHdr = "copilot-api"
)

// Config holds configuration for the backend client.
type Config struct {
	BaseURL        string // optional, defaults to the hosted backend
	RequestTimeout time.Duration
}

// Client talks to the backend completion API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// RateLimitInfo is the rate-limit signal extracted from response headers.
// Nil pointer fields mean the backend did not report that value.
type RateLimitInfo struct {
	Remaining  *int
	ResetAt    *time.Time
	RetryAfter *time.Duration
}

// StatusError reports a non-2xx backend response with its decoded body.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
	RateLimit  RateLimitInfo
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend: http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend: http %d", e.StatusCode)
}

// IsRateLimited reports whether err is a backend 429/403 quota response.
func IsRateLimited(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusForbidden
}

// IsAuthFailure reports whether err is a backend 401 response.
func IsAuthFailure(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete sends a non-streaming completion request.
func (c *Client) Complete(ctx context.Context, token string, req canonical.Request) (canonical.Response, RateLimitInfo, error) {
	req.Stream = false
	resp, err := c.postCompletion(ctx, token, req, false)
	if err != nil {
		return canonical.Response{}, RateLimitInfo{}, err
	}
	defer resp.Body.Close()
	info := parseRateLimit(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return canonical.Response{}, info, statusError(resp, info)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return canonical.Response{}, info, fmt.Errorf("backend: read response: %w", err)
	}
	var out canonical.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return canonical.Response{}, info, fmt.Errorf("backend: unmarshal response: %w", err)
	}
	return out, info, nil
}

// CompleteStream sends a streaming completion request and returns a reader
// over the backend's SSE events. The caller must Close the reader.
func (c *Client) CompleteStream(ctx context.Context, token string, req canonical.Request) (*StreamReader, RateLimitInfo, error) {
	req.Stream = true
	resp, err := c.postCompletion(ctx, token, req, true)
	if err != nil {
		return nil, RateLimitInfo{}, err
	}
	info := parseRateLimit(resp.Header)
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, info, statusError(resp, info)
	}
	return NewStreamReader(resp.Body), info, nil
}

// ModelInfo describes one backend model.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Family        string `json:"family,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
	MaxOutput     int    `json:"max_output_tokens,omitempty"`
	ToolCalls     bool   `json:"tool_calls,omitempty"`
}

// ListModels fetches the backend model catalogue.
func (c *Client) ListModels(ctx context.Context, token string) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	c.setHeaders(httpReq, token, false)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, parseRateLimit(resp.Header))
	}
	var out struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("backend: unmarshal models: %w", err)
	}
	return out.Data, nil
}

func (c *Client) postCompletion(ctx context.Context, token string, req canonical.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	c.setHeaders(httpReq, token, stream)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: send request: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request, token string, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Editor-Version", editorVersion)
	req.Header.Set("Copilot-Integration-Id", integrationIDHdr)
	req.Header.Set("User-Agent", userAgentHeader)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func statusError(resp *http.Response, info RateLimitInfo) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	se := &StatusError{StatusCode: resp.StatusCode, RateLimit: info}
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		se.Type = errResp.Error.Type
		se.Message = errResp.Error.Message
	} else if len(data) > 0 {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}

// parseRateLimit extracts the rate-limit signal from backend headers. When
// both an absolute reset and a retry-after duration are present the later
// timestamp wins; the tracker treats the conservative value as authoritative.
func parseRateLimit(h http.Header) RateLimitInfo {
	var info RateLimitInfo
	if v := h.Get("x-ratelimit-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Remaining = &n
		}
	}
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(sec, 0)
			info.ResetAt = &t
		}
	}
	if v := h.Get("retry-after"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			d := time.Duration(sec) * time.Second
			info.RetryAfter = &d
		}
	}
	return info
}
