package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrDecode wraps failures to parse a 2xx response body.
var ErrDecode = errors.New("decode response")

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = append(body[:256:256], "..."...)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// Temporary reports whether the same request may succeed later: throttling
// (429, and 418 which Binance uses for bans) or a server error.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusTeapot || e.StatusCode >= 500
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout bounds each request including reading the body.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// Client sends JSON requests to upstream services.
type Client struct {
	hc        *http.Client
	userAgent string
}

// NewClient creates a client with a 30s timeout unless overridden.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{hc: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches url into dest. See Do for dest handling.
func (c *Client) GetJSON(ctx context.Context, url string, dest interface{}) error {
	return c.Do(ctx, http.MethodGet, url, nil, dest)
}

// PostJSON sends body encoded as JSON and decodes the answer into dest.
func (c *Client) PostJSON(ctx context.Context, url string, body, dest interface{}) error {
	return c.Do(ctx, http.MethodPost, url, body, dest)
}

// Do performs one request. A nil body sends none; a nil dest discards the
// response; a *[]byte dest receives the raw body. Non-2xx answers come back
// as *StatusError.
func (c *Client) Do(ctx context.Context, method, url string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       raw,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	switch d := dest.(type) {
	case nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *[]byte:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		*d = raw
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// retryAfter accepts delta-seconds or an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
