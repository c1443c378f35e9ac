// Package backend is the HTTP client for the ISP REST backend. Session
// identity travels as the backend's own HTTP-only cookies; the client relays
// them and never inspects their contents.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cookie names issued by the backend.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// Config holds connection settings for the backend.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics
}

// New constructs a Client. logger and metrics may be nil.
func New(cfg Config, logger *slog.Logger, metrics *Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "backend_client")),
		metrics:    metrics,
	}
}

// ForwardedCookies picks the backend session cookies from an incoming request.
func ForwardedCookies(r *http.Request) []*http.Cookie {
	var out []*http.Cookie
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return out
}

type request struct {
	method      string
	path        string
	query       url.Values
	cookies     []*http.Cookie
	body        io.Reader
	contentType string
}

// send performs the request and returns the response for 2xx statuses.
// Callers must close the body.
func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(req.path, "/")
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, req.body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for _, cookie := range req.cookies {
		httpReq.AddCookie(cookie)
	}

	started := time.Now()
	resource := resourceLabel(req.path)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.observe(resource, req.method, 0, err, started)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("backend request failed",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.metrics.observe(resource, req.method, resp.StatusCode, nil, started)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		apiErr := errorFromResponse(resp)
		if resp.StatusCode >= 500 {
			c.logger.Error("backend server error",
				slog.String("method", req.method),
				slog.String("path", req.path),
				slog.Int("status", resp.StatusCode),
			)
		}
		return nil, apiErr
	}
	return resp, nil
}

// sendJSON sends payload as JSON and decodes the response into out when
// out is non-nil.
func (c *Client) sendJSON(ctx context.Context, method, path string, cookies []*http.Cookie, payload, out any) error {
	req := request{method: method, path: path, cookies: cookies}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("backend: encode payload: %w", err)
		}
		req.body = bytes.NewReader(raw)
		req.contentType = "application/json"
	}
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeEnvelope(resp.Body, out)
}

// decodeEnvelope accepts both bare payloads and {"data": ...} envelopes.
func decodeEnvelope(r io.Reader, out any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("backend: read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if raw[0] == '{' && json.Unmarshal(raw, &envelope) == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("backend: decode body: %w", err)
	}
	return nil
}

func resourceLabel(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}
	head, _, _ := strings.Cut(path, "/")
	return head
}
