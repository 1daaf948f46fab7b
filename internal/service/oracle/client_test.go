package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, time.Second,
		WithMaxRetries(2),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
}

func TestAnalyzeSignal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		var req models.AnalysisContext
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SOLUSDT", req.Symbol)
		assert.Equal(t, []models.Direction{models.DirectionLong}, req.AllowedDirections)
		fmt.Fprint(w, `{"result_kind":"SIGNAL","confluence_points":13,"max_points":15,
			"signal":{"direction":"LONG","entry":100,"stop_loss":98,"tp1":104,"tp2":108}}`)
	})

	res, err := c.Analyze(context.Background(), models.AnalysisContext{
		Symbol:            "SOLUSDT",
		AllowedDirections: []models.Direction{models.DirectionLong},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResultSignal, res.Kind)
	assert.Equal(t, "13/15", res.ConfluenceScore())
	require.NotNil(t, res.Signal)
	require.NotNil(t, res.Signal.TakeProfit2)
	assert.InDelta(t, 108, *res.Signal.TakeProfit2, 1e-9)
	assert.Nil(t, res.Signal.TakeProfit3)
}

func TestAnalyzeRejectsMalformedUnion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result_kind":"WAIT","confluence_points":4,"max_points":15,
			"signal":{"direction":"LONG","entry":100,"stop_loss":98,"tp1":104}}`)
	})

	_, err := c.Analyze(context.Background(), models.AnalysisContext{Symbol: "XUSDT"})
	assert.ErrorIs(t, err, repository.ErrInvalidOracleResult)
}

func TestAnalyzeRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"result_kind":"WAIT","confluence_points":4,"max_points":15,"wait":{"reason":"range"}}`)
	})

	res, err := c.Analyze(context.Background(), models.AnalysisContext{Symbol: "XUSDT"})
	require.NoError(t, err)
	assert.Equal(t, models.ResultWait, res.Kind)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestAnalyzeDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.Analyze(context.Background(), models.AnalysisContext{Symbol: "XUSDT"})
	require.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestAnalyzeWithoutURL(t *testing.T) {
	c := New("", time.Second)
	_, err := c.Analyze(context.Background(), models.AnalysisContext{Symbol: "XUSDT"})
	require.Error(t, err)
}
