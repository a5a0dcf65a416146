// Package gateway is the Mutation Gateway: a client for the expenses REST
// backend that turns ledger changes into remote writes and pulls the remote
// state back into a ledger snapshot.
//
// Multi-write operations (an expense with its participants, a settlement
// batch) are pushed as a unit: if any write fails, the writes already made are
// undone before the error is returned.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/middleware"
)

const (
	// DefaultBaseURL is where the backend listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds every single request.
	DefaultTimeout = 10 * time.Second

	// DefaultPullConcurrency bounds parallel requests during PullSnapshot.
	DefaultPullConcurrency = 4
)

// Client talks to the backend.
type Client struct {
	baseURL         string
	http            *http.Client
	metrics         *metrics
	pullConcurrency int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithRegisterer registers the client's request metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = newMetrics(reg)
	}
}

// WithPullConcurrency bounds parallel requests during PullSnapshot.
func WithPullConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pullConcurrency = n
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		http:            &http.Client{Timeout: DefaultTimeout},
		pullConcurrency: DefaultPullConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	return c
}

// do sends one request and decodes the JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	start := time.Now()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindInvalidData, Err: errors.Wrap(err, "encode request")}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindUnexpected, Err: errors.Wrap(err, "build request")}
	}
	requestID := uuid.NewString()
	req.Header.Set(middleware.RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.observe(op, 0, start)
		gwErr := &Error{Op: op, Kind: transportKind(err), Err: err}
		slog.Warn("Backend unreachable", "op", op, "request_id", requestID, "error", err)
		return gwErr
	}
	defer resp.Body.Close()
	c.metrics.observe(op, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		gwErr := &Error{
			Op:         op,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     readDetail(resp.Body),
		}
		slog.Warn("Backend error",
			"op", op,
			"status", resp.StatusCode,
			"detail", gwErr.Detail,
			"request_id", requestID,
		)
		return gwErr
	}

	slog.Debug("Backend ok",
		"op", op,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindUnexpected, StatusCode: resp.StatusCode, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

func transportKind(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
