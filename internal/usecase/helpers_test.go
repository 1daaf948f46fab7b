package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/internal/repository"
	"TradeScout/pkg/cache"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/metrics"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// noon of a fixed UTC day; tests move the clock explicitly.
var day = time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

type mockMarket struct {
	mock.Mock
}

func (m *mockMarket) GetTickers(ctx context.Context) ([]models.Ticker, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Ticker), args.Error(1)
}

func (m *mockMarket) GetCandles(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), args.Error(1)
}

func (m *mockMarket) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	args := m.Called(ctx, symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

type fakeOracle struct {
	mu    sync.Mutex
	calls []models.AnalysisContext
	fn    func(req models.AnalysisContext) (*models.OracleResult, error)
}

func (f *fakeOracle) Analyze(_ context.Context, req models.AnalysisContext) (*models.OracleResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

type fakeNotifier struct {
	mu   sync.Mutex
	got  []*models.Notification
	fail error
}

func (f *fakeNotifier) Notify(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeNotifier) all() []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Notification(nil), f.got...)
}

type fakeEvents struct {
	mu  sync.Mutex
	got []models.SignalEvent
}

func (f *fakeEvents) PublishSignalEvent(_ context.Context, ev models.SignalEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, ev)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) all() []models.SignalEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SignalEvent(nil), f.got...)
}

type pricesFunc func(symbols []string) (map[string]float64, error)

func (f pricesFunc) Prices(_ context.Context, symbols []string) (map[string]float64, error) {
	return f(symbols)
}

func fixedPrices(m map[string]float64) pricesFunc {
	return func(symbols []string) (map[string]float64, error) {
		out := map[string]float64{}
		for _, s := range symbols {
			if p, ok := m[s]; ok {
				out[s] = p
			}
		}
		return out, nil
	}
}

// env wires the use cases over the in-memory store the way the daemon does.
type env struct {
	clk       *clock
	stores    *repository.MemoryStore
	cache     *cache.MemoryCache
	events    *fakeEvents
	notifier  *fakeNotifier
	announcer *Announcer
	operator  *Operator
	filter    *SmartFilter
	gate      *Gatekeeper
	decider   *Decider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clk:      &clock{t: day},
		stores:   repository.NewMemoryStore(50),
		events:   &fakeEvents{},
		notifier: &fakeNotifier{},
	}
	e.cache = cache.NewMemoryCache(cache.WithMemoryClock(e.clk.Now))
	t.Cleanup(func() { _ = e.cache.Close() })

	lgr := logger.Nop()
	m := metrics.Nop{}
	e.announcer = NewAnnouncer(e.events, e.notifier, false, m, lgr)
	e.operator = NewOperator(e.stores.Analysis(), e.stores.Observations(), e.stores.Signals(), e.cache, e.announcer, time.Minute, e.clk.Now, m, lgr)
	e.filter = NewSmartFilter(e.stores.Analysis(), e.stores.Observations(), FilterConfig{ExpireAfter: 4 * time.Hour, PriceDeltaPct: 2}, e.clk.Now, m, lgr)
	e.gate = NewGatekeeper(e.stores.Signals(), e.announcer, e.clk.Now, m, lgr)
	e.decider = NewDecider(e.stores.Analysis(), e.operator, DecisionConfig{
		ConfidenceThreshold: 75,
		MuteDuration:        4 * time.Hour,
		MaxLeverage:         20,
		RiskPct:             0.01,
		PortfolioValue:      1000,
		MinRewardRisk:       2,
	}, e.clk.Now, m, lgr)
	return e
}

func ptr(v float64) *float64 { return &v }

// seedSignal stores an Active signal directly, bypassing the daily limit.
func (e *env) seedSignal(t *testing.T, id, symbol string, dir models.Direction, created time.Time, entry, sl, tp1 float64, tp2, tp3 *float64) {
	t.Helper()
	require.NoError(t, e.stores.Signals().Create(context.Background(), &models.Signal{
		ID:          id,
		Symbol:      symbol,
		Direction:   dir,
		CreatedAt:   created,
		Status:      models.StatusActive,
		EntryPrice:  entry,
		StopLoss:    sl,
		TakeProfit1: tp1,
		TakeProfit2: tp2,
		TakeProfit3: tp3,
		History:     []models.HistoryEvent{{Timestamp: created, Event: models.EventSignalCreated, Price: entry}},
	}))
}

func signalResult(points, max int, dir models.Direction, entry, sl, tp1 float64) *models.OracleResult {
	return &models.OracleResult{
		Kind:             models.ResultSignal,
		ConfluencePoints: points,
		MaxPoints:        max,
		Signal: &models.SignalProposal{
			Direction:   dir,
			Entry:       entry,
			StopLoss:    sl,
			TakeProfit1: tp1,
		},
	}
}
