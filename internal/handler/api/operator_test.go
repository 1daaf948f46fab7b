package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/repository"
	"TradeScout/internal/scheduler"
	"TradeScout/internal/service/ratelimit"
	"TradeScout/internal/usecase"
	"TradeScout/pkg/cache"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	e       *echo.Echo
	sched   *scheduler.Scheduler
	scans   atomic.Int32
	prices  map[string]float64
	stores  *repository.MemoryStore
	limiter *ratelimit.Limiter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	lgr := logger.Nop()
	m := metrics.Nop{}
	api := &testAPI{stores: repository.NewMemoryStore(50), prices: map[string]float64{}}

	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })

	announcer := usecase.NewAnnouncer(nil, nil, false, m, lgr)
	operator := usecase.NewOperator(api.stores.Analysis(), api.stores.Observations(), api.stores.Signals(), c, announcer, time.Minute, nil, m, lgr)
	decider := usecase.NewDecider(api.stores.Analysis(), operator, usecase.DecisionConfig{
		ConfidenceThreshold: 75,
		MuteDuration:        4 * time.Hour,
		MaxLeverage:         20,
		RiskPct:             0.01,
		PortfolioValue:      1000,
	}, nil, m, lgr)
	monitor := usecase.NewMonitor(api.stores.Signals(), priceMap(api.prices), operator, announcer, false, nil, m, lgr)
	pipeline := usecase.NewPipeline(nil, nil, nil, nil, decider, announcer, c, time.Minute, nil, m, lgr)

	api.sched = scheduler.New(lgr)
	_, err := api.sched.Register(scheduler.TaskScan, 10*time.Minute, func(context.Context) error {
		api.scans.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = api.sched.Register(scheduler.TaskMonitor, 5*time.Minute, func(ctx context.Context) error {
		_, err := monitor.RunOnce(ctx)
		return err
	})
	require.NoError(t, err)

	api.limiter = ratelimit.New(2, 1)
	api.e = echo.New()
	NewOperatorHandler(pipeline, operator, decider, monitor, api.sched, api.limiter, lgr).RegisterRoutes(api.e)
	return api
}

type priceMap map[string]float64

func (p priceMap) Prices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := map[string]float64{}
	for _, s := range symbols {
		if v, ok := p[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func errorCode(t *testing.T, env envelope) string {
	t.Helper()
	var errs []struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &errs))
	require.NotEmpty(t, errs)
	return errs[0].Code
}

const longBody = `{"symbol":"solusdt","direction":"LONG","entry":100,"stop_loss":98,"tp1":104,"confidence_percent":87,"confluence_score":"13/15"}`

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	code, _ := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestSignalEndpoints(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(t, http.MethodPost, "/api/signals", longBody)
	require.Equal(t, http.StatusCreated, code)
	var s models.Signal
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, "SOLUSDT", s.Symbol)
	assert.Equal(t, models.StatusActive, s.Status)
	assert.Equal(t, "MANUAL", s.TriggerReason)

	code, env = api.do(t, http.MethodPost, "/api/signals", longBody)
	assert.Equal(t, http.StatusConflict, code, "daily limit")
	assert.Equal(t, "ERR_CONFLICT", errorCode(t, env))

	code, _ = api.do(t, http.MethodPost, "/api/signals", `{"symbol":"ETHUSDT","direction":"UP","entry":1,"stop_loss":1,"tp1":1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(t, http.MethodPost, "/api/signals", `{"symbol":"ETHUSDT","direction":"SHORT","entry":100,"stop_loss":98,"tp1":96}`)
	assert.Equal(t, http.StatusBadRequest, code, "short stop below entry")
	assert.Equal(t, "ERR_BAD_REQUEST", errorCode(t, env))

	code, _ = api.do(t, http.MethodGet, "/api/signals/"+s.ID, "")
	assert.Equal(t, http.StatusOK, code)
	code, env = api.do(t, http.MethodGet, "/api/signals/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ERR_NOT_FOUND", errorCode(t, env))

	code, env = api.do(t, http.MethodGet, "/api/signals?symbol=solusdt&status=Active", "")
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Rows  []models.Signal `json:"rows"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 1, list.Total)

	code, _ = api.do(t, http.MethodGet, "/api/signals?status=DONE", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = api.do(t, http.MethodGet, "/api/signals?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(t, http.MethodPost, "/api/signals/"+s.ID+"/close", `{"status":"Invalidated","price":99}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, models.StatusInvalidated, s.Status)

	code, _ = api.do(t, http.MethodPost, "/api/signals/"+s.ID+"/close", `{"status":"ClosedManual"}`)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = api.do(t, http.MethodPost, "/api/signals/"+s.ID+"/close", `{"status":"HitTP1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(t, http.MethodGet, "/api/signals/stats", "")
	require.Equal(t, http.StatusOK, code)
	var st models.SignalStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, 1, st.Total)
}

func TestMuteEndpoints(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodGet, "/api/analysis/SOLUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := api.do(t, http.MethodPost, "/api/analysis/solusdt/mute", `{"minutes":60}`)
	require.Equal(t, http.StatusOK, code)
	var rec models.AnalysisRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, "SOLUSDT", rec.Symbol)
	assert.Equal(t, models.MuteReasonManual, rec.MuteReason)
	require.NotNil(t, rec.MuteUntil)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *rec.MuteUntil, 5*time.Second)

	code, env = api.do(t, http.MethodGet, "/api/muted", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"total":1`)

	code, _ = api.do(t, http.MethodPost, "/api/analysis/SOLUSDT/mute", `{"reason":"SLEEPY"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(t, http.MethodDelete, "/api/analysis/SOLUSDT/mute", "")
	require.Equal(t, http.StatusOK, code)
	var unmuted models.AnalysisRecord
	require.NoError(t, json.Unmarshal(env.Data, &unmuted))
	assert.Nil(t, unmuted.MuteUntil)

	code, _ = api.do(t, http.MethodDelete, "/api/analysis/ETHUSDT/mute", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodGet, "/api/observations", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestMonitorEndpoints(t *testing.T) {
	api := newTestAPI(t)
	code, _ := api.do(t, http.MethodPost, "/api/signals", longBody)
	require.Equal(t, http.StatusCreated, code)
	api.prices["SOLUSDT"] = 105

	code, env := api.do(t, http.MethodGet, "/api/monitor/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"STOPPED"`)

	code, env = api.do(t, http.MethodPost, "/api/monitor/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"RUNNING"`)
	code, _ = api.do(t, http.MethodPost, "/api/monitor/start", "")
	assert.Equal(t, http.StatusOK, code)

	code, env = api.do(t, http.MethodPost, "/api/monitor/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"state":"STOPPED"`)

	code, env = api.do(t, http.MethodPost, "/api/monitor/run", "")
	require.Equal(t, http.StatusOK, code)
	var report usecase.MonitorReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report.Transitions, 1)
	assert.Equal(t, models.StatusHitTP1, report.Transitions[0].To)

	code, _ = api.do(t, http.MethodPost, "/api/monitor/run", "")
	assert.Equal(t, http.StatusOK, code)
	code, env = api.do(t, http.MethodPost, "/api/monitor/run", "")
	assert.Equal(t, http.StatusTooManyRequests, code, "burst of two")
	assert.Equal(t, "ERR_TOO_MANY_REQUESTS", errorCode(t, env))

	code, env = api.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, code)
	var statuses []scheduler.Status
	require.NoError(t, json.Unmarshal(env.Data, &statuses))
	assert.Len(t, statuses, 2)
}

func TestScanEndpoints(t *testing.T) {
	api := newTestAPI(t)

	code, _ := api.do(t, http.MethodGet, "/api/scan/last", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = api.do(t, http.MethodPost, "/api/scan", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Eventually(t, func() bool { return api.scans.Load() == 1 }, time.Second, 10*time.Millisecond)
}
