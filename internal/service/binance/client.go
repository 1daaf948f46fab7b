package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	pkghttp "TradeScout/pkg/http"
	"TradeScout/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	codeInvalidSymbol = -1121
	priceBatchSize    = 100
)

var (
	_ repository.MarketData  = (*Client)(nil)
	_ repository.PriceSource = (*Client)(nil)
)

// Client is the Binance spot REST market data gateway.
type Client struct {
	http       *pkghttp.Client
	baseURL    string
	maxRetries int
	logger     *logger.Logger
	newBackoff func() backoff.BackOff
}

// Option configures Client.
type Option func(*Client)

// WithMaxRetries bounds retries of transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff overrides the retry schedule.
func WithBackoff(fn func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackoff = fn }
}

// New creates a client against baseURL (https://api.binance.com in production).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:       pkghttp.NewClient(pkghttp.WithTimeout(timeout), pkghttp.WithUserAgent("tradescout")),
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: 3,
		logger:     logger.Nop(),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tickerResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
}

// GetTickers returns the 24h snapshot of every instrument.
func (c *Client) GetTickers(ctx context.Context) ([]models.Ticker, error) {
	var raw []tickerResponse
	if err := c.get(ctx, "/api/v3/ticker/24hr", nil, &raw); err != nil {
		return nil, fmt.Errorf("get tickers: %w", err)
	}
	out := make([]models.Ticker, 0, len(raw))
	for _, r := range raw {
		price, err1 := strconv.ParseFloat(r.LastPrice, 64)
		vol, err2 := strconv.ParseFloat(r.QuoteVolume, 64)
		chg, err3 := strconv.ParseFloat(r.PriceChangePercent, 64)
		if err := errors.Join(err1, err2, err3); err != nil {
			c.logger.Debug("skip malformed ticker", logger.String("symbol", r.Symbol), logger.Error(err))
			continue
		}
		out = append(out, models.Ticker{
			Symbol:            r.Symbol,
			LastPrice:         price,
			QuoteVolume24h:    vol,
			PriceChangePct24h: chg,
		})
	}
	return out, nil
}

// GetCandles returns up to limit candles, oldest first. The last one is the
// candle still in progress.
func (c *Client) GetCandles(ctx context.Context, symbol string, interval repository.Interval, limit int) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.get(ctx, "/api/v3/klines", q, &raw); err != nil {
		return nil, fmt.Errorf("get candles %s %s: %w", symbol, interval, err)
	}
	out := make([]models.Candle, 0, len(raw))
	for _, row := range raw {
		candle, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("parse candle %s: %w", symbol, err)
		}
		out = append(out, candle)
	}
	return out, nil
}

func parseKline(row []json.RawMessage) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("kline has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}
	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return models.Candle{}, err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, err
		}
		vals[i] = f
	}
	return models.Candle{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrices returns last prices for symbols in batched calls. Unknown symbols
// are omitted from the result.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	for start := 0; start < len(symbols); start += priceBatchSize {
		end := start + priceBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]
		err := c.fetchPrices(ctx, batch, out)
		if errors.Is(err, repository.ErrNotFound) {
			// One delisted symbol fails the whole batch; fall back to single lookups.
			err = c.fetchPricesOneByOne(ctx, batch, out)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Prices implements repository.PriceSource.
func (c *Client) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	return c.GetPrices(ctx, symbols)
}

func (c *Client) fetchPrices(ctx context.Context, symbols []string, out map[string]float64) error {
	if len(symbols) == 0 {
		return nil
	}
	list, err := json.Marshal(symbols)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("symbols", string(list))

	var raw []priceResponse
	if err := c.get(ctx, "/api/v3/ticker/price", q, &raw); err != nil {
		return fmt.Errorf("get prices: %w", err)
	}
	for _, r := range raw {
		if p, err := strconv.ParseFloat(r.Price, 64); err == nil {
			out[r.Symbol] = p
		}
	}
	return nil
}

func (c *Client) fetchPricesOneByOne(ctx context.Context, symbols []string, out map[string]float64) error {
	for _, sym := range symbols {
		q := url.Values{}
		q.Set("symbol", sym)
		var r priceResponse
		err := c.get(ctx, "/api/v3/ticker/price", q, &r)
		if errors.Is(err, repository.ErrNotFound) {
			c.logger.Warn("price unavailable", logger.String("symbol", sym))
			continue
		}
		if err != nil {
			return fmt.Errorf("get price %s: %w", sym, err)
		}
		if p, err := strconv.ParseFloat(r.Price, 64); err == nil {
			out[r.Symbol] = p
		}
	}
	return nil
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// get performs a GET with bounded retries of transient failures.
func (c *Client) get(ctx context.Context, path string, q url.Values, dest interface{}) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	wait := &minWaitBackOff{BackOff: c.newBackoff()}
	policy := backoff.WithContext(backoff.WithMaxRetries(wait, uint64(c.maxRetries)), ctx)

	op := func() error {
		var body []byte
		if err := c.http.GetJSON(ctx, endpoint, &body); err != nil {
			return c.classify(ctx, err, wait)
		}
		if err := json.Unmarshal(body, dest); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	}
	notify := func(err error, d time.Duration) {
		c.logger.Warn("binance request retry",
			logger.String("path", path),
			logger.Duration("wait", d),
			logger.Error(err))
	}
	return backoff.RetryNotify(op, policy, notify)
}

func (c *Client) classify(ctx context.Context, err error, wait *minWaitBackOff) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var se *pkghttp.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusTeapot:
		wait.min = se.RetryAfter
		return fmt.Errorf("%w: %v", repository.ErrRateLimited, se)
	case se.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %v", repository.ErrNotFound, se))
	case se.StatusCode == http.StatusBadRequest:
		var ae apiError
		if json.Unmarshal(se.Body, &ae) == nil && ae.Code == codeInvalidSymbol {
			return backoff.Permanent(fmt.Errorf("%w: %s", repository.ErrNotFound, ae.Msg))
		}
		return backoff.Permanent(se)
	case se.Temporary():
		return se
	default:
		return backoff.Permanent(se)
	}
}

// minWaitBackOff never waits less than the server asked for via Retry-After.
type minWaitBackOff struct {
	backoff.BackOff
	min time.Duration
}

func (b *minWaitBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if b.min > d {
		d = b.min
	}
	b.min = 0
	return d
}
