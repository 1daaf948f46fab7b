package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	"TradeScout/internal/domain/service"
	xhttp "TradeScout/pkg/http"
	"TradeScout/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

var _ service.Oracle = (*Client)(nil)

// Client calls the external analysis service over HTTP. The service receives
// an AnalysisContext as JSON and answers with an OracleResult.
type Client struct {
	baseURL    string
	path       string
	attempts   int
	client     *xhttp.Client
	logger     *logger.Logger
	newBackoff func() backoff.BackOff
}

// Option configures Client.
type Option func(*Client)

// WithPath overrides the analyze endpoint path (default /analyze).
func WithPath(path string) Option {
	return func(c *Client) { c.path = path }
}

// WithMaxRetries bounds retries of transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff overrides the retry schedule.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = fn }
}

// New builds an oracle client for baseURL with a per-request timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		path:     "/analyze",
		attempts: 2,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithUserAgent("tradescout")),
		logger:   logger.Nop(),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze asks the oracle for a verdict on req.Symbol. A malformed answer is
// reported as ErrInvalidOracleResult and never retried.
func (c *Client) Analyze(ctx context.Context, req models.AnalysisContext) (*models.OracleResult, error) {
	var res models.OracleResult
	if err := c.PostJSONWithRetry(ctx, c.path, req, &res); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", req.Symbol, err)
	}
	if err := res.Validate(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w: %v", req.Symbol, repository.ErrInvalidOracleResult, err)
	}
	return &res, nil
}

// PostJSON posts payload to path under baseURL and decodes the JSON answer into dest.
func (c *Client) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if c.baseURL == "" {
		return errors.New("oracle url not configured")
	}
	if err := c.client.PostJSON(ctx, c.baseURL+path, payload, dest); err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries PostJSON on network errors, 429 and 5xx.
func (c *Client) PostJSONWithRetry(ctx context.Context, path string, payload, dest interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), uint64(c.attempts)), ctx)
	op := func() error {
		err := c.PostJSON(ctx, path, payload, dest)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusTooManyRequests {
				return fmt.Errorf("%w: %v", repository.ErrRateLimited, err)
			}
			if !se.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		if errors.Is(err, xhttp.ErrDecode) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		c.logger.Warn("oracle request retry", logger.String("path", path), logger.Duration("wait", d), logger.Error(err))
	})
}
