package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"TradeScout/internal/domain/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second,
		WithMaxRetries(2),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
}

func TestGetTickersSkipsMalformedRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		fmt.Fprint(w, `[
			{"symbol":"BTCUSDT","lastPrice":"97000.10","quoteVolume":"1500000000.5","priceChangePercent":"-3.20"},
			{"symbol":"BADUSDT","lastPrice":"n/a","quoteVolume":"1","priceChangePercent":"1"}
		]`)
	})

	tickers, err := c.GetTickers(context.Background())
	require.NoError(t, err)
	require.Len(t, tickers, 1)
	assert.Equal(t, "BTCUSDT", tickers[0].Symbol)
	assert.InDelta(t, 97000.10, tickers[0].LastPrice, 1e-9)
	assert.InDelta(t, 1500000000.5, tickers[0].QuoteVolume24h, 1e-6)
	assert.InDelta(t, -3.2, tickers[0].PriceChangePct24h, 1e-9)
}

func TestGetCandlesParsesKlines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "4h", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `[
			[1700000000000,"100.0","110.0","95.0","105.0","1234.5",1700014399999,"0",10,"0","0","0"],
			[1700014400000,"105.0","108.0","101.0","107.1","999.0",1700028799999,"0",10,"0","0","0"]
		]`)
	})

	candles, err := c.GetCandles(context.Background(), "ETHUSDT", repository.Interval4h, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.True(t, candles[0].OpenTime.Equal(time.UnixMilli(1700000000000)))
	assert.InDelta(t, 105.0, candles[0].Close, 1e-9)
	assert.InDelta(t, 1234.5, candles[0].Volume, 1e-9)
	assert.InDelta(t, 107.1, candles[1].Close, 1e-9)
	assert.InDelta(t, 101.0, candles[1].Low, 1e-9)
}

func TestRateLimitIsRetriedThenSurfaced(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	})

	_, err := c.GetTickers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrRateLimited)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls), "one attempt plus two retries")
}

func TestServerErrorRecovers(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	tickers, err := c.GetTickers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tickers)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestInvalidSymbolIsNotFoundAndNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := c.GetCandles(context.Background(), "NOPEUSDT", repository.Interval1h, 25)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NotErrorIs(t, err, repository.ErrRateLimited)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestOtherClientErrorIsGeneric(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1100,"msg":"Illegal characters found in parameter."}`)
	})

	_, err := c.GetCandles(context.Background(), "BTCUSDT", repository.Interval1h, 25)
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
	assert.NotErrorIs(t, err, repository.ErrRateLimited)
}

func TestGetPricesFallsBackWhenBatchHasUnknownSymbol(t *testing.T) {
	prices := map[string]string{"BTCUSDT": "97000", "ETHUSDT": "3500.5"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if batch := q.Get("symbols"); batch != "" {
			if strings.Contains(batch, "GONEUSDT") {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
				return
			}
			fmt.Fprint(w, `[]`)
			return
		}
		sym := q.Get("symbol")
		p, ok := prices[sym]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		fmt.Fprintf(w, `{"symbol":%q,"price":%q}`, sym, p)
	})

	got, err := c.GetPrices(context.Background(), []string{"BTCUSDT", "GONEUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 97000, "ETHUSDT": 3500.5}, got)
}

func TestGetPricesBatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["BTCUSDT","ETHUSDT"]`, r.URL.Query().Get("symbols"))
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"97000.00"},{"symbol":"ETHUSDT","price":"3500.50"}]`)
	})

	got, err := c.Prices(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 97000, "ETHUSDT": 3500.5}, got)
}

type fakePrices map[string]float64

func (f fakePrices) Prices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, s := range symbols {
		if p, ok := f[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func TestStreamDecodesMiniTickerFrame(t *testing.T) {
	s := NewPriceStream("ws://unused", time.Second, time.Minute, nil)
	frame := `[{"e":"24hrMiniTicker","E":1672515782136,"s":"BNBBTC","c":"0.0025",` +
		`"o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18"}]`

	require.Equal(t, 1, s.apply([]byte(frame)))
	p, ok := s.Price("BNBBTC")
	require.True(t, ok)
	assert.InDelta(t, 0.0025, p, 1e-12)
}

func TestStreamPricesAndFallback(t *testing.T) {
	now := time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)
	s := NewPriceStream("ws://unused", time.Second, time.Minute, nil)
	s.now = func() time.Time { return now }

	n := s.apply([]byte(`[
		{"e":"24hrMiniTicker","E":1,"s":"BTCUSDT","c":"97100.5","o":"1","h":"1","l":"1","v":"1","q":"1"},
		{"e":"24hrMiniTicker","E":1,"s":"ETHUSDT","c":"bad"}
	]`))
	assert.Equal(t, 1, n)
	assert.Zero(t, s.apply([]byte(`{"result":null,"id":1}`)))

	p, ok := s.Price("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 97100.5, p, 1e-9)

	src := NewFallbackPriceSource(s, fakePrices{"BTCUSDT": 1, "ETHUSDT": 3500})
	got, err := src.Prices(context.Background(), []string{"BTCUSDT", "ETHUSDT", "XYZUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 97100.5, "ETHUSDT": 3500}, got)

	now = now.Add(2 * time.Minute)
	_, ok = s.Price("BTCUSDT")
	assert.False(t, ok, "stale quotes are ignored")
	got, err = src.Prices(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTCUSDT": 1}, got)
}
