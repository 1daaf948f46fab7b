package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (e *env) pipeline(m *mockMarket, oracle *fakeOracle) *Pipeline {
	return NewPipeline(testScanner(m), e.filter, e.gate, oracle, e.decider, e.announcer, e.cache, time.Minute, e.clk.Now, metrics.Nop{}, logger.Nop())
}

func solMarket() *mockMarket {
	m := &mockMarket{}
	m.On("GetTickers", mock.Anything).Return([]models.Ticker{
		{Symbol: "SOLUSDT", LastPrice: 102, QuoteVolume24h: 50_000_000, PriceChangePct24h: 6},
	}, nil)
	m.On("GetCandles", mock.Anything, "SOLUSDT", domrepo.Interval4h, 2).Return(closes(100, 102), nil)
	m.On("GetCandles", mock.Anything, "SOLUSDT", domrepo.Interval1h, 25).Return(hourly(100, 24, 210), nil)
	return m
}

func TestPipelineEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	oracle := &fakeOracle{fn: func(models.AnalysisContext) (*models.OracleResult, error) {
		return signalResult(13, 15, models.DirectionLong, 102, 100, 106), nil
	}}
	p := e.pipeline(solMarket(), oracle)

	_, err := p.LastReport(ctx)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	report, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Analyzed)
	assert.Equal(t, 1, report.Signals)

	require.Len(t, oracle.calls, 1)
	req := oracle.calls[0]
	assert.Equal(t, "SOLUSDT", req.Symbol)
	assert.Equal(t, ReasonNewAsset, req.TriggerReason)
	assert.Equal(t, []models.Direction{models.DirectionLong, models.DirectionShort}, req.AllowedDirections)
	assert.InDelta(t, 2.1, req.RVOL, 1e-9)

	out := report.Outcomes[0]
	assert.Equal(t, StageDecision, out.Stage)
	require.NotNil(t, out.Decision)
	assert.Equal(t, ActionSignal, out.Decision.Action)
	assert.Equal(t, 87, out.Decision.ConfidencePercent)
	assert.True(t, out.Notified)
	assert.Zero(t, report.Undelivered)

	active, err := e.stores.Signals().List(ctx, models.SignalFilter{Status: models.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "13/15", active[0].ConfluenceScore)
	assert.Equal(t, ReasonNewAsset, active[0].TriggerReason)

	notes := e.notifier.all()
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifySignal, notes[0].Kind)
	assert.Equal(t, 87, notes[0].ConfidencePercent)

	rec, err := e.stores.Analysis().Get(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AnalysisCount)
	assert.InDelta(t, 102, rec.LastPrice, 1e-9)

	last, err := p.LastReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Signals)

	// A minute later nothing moved, so the filter stops the candidate.
	e.clk.Advance(time.Minute)
	report, err = p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, StageFilter, report.Outcomes[0].Stage)
	assert.Len(t, oracle.calls, 1)
	assert.Len(t, e.notifier.all(), 1)
}

func TestPipelineReportsUndeliveredSignal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.notifier.fail = errors.New("webhook returned 500")
	oracle := &fakeOracle{fn: func(models.AnalysisContext) (*models.OracleResult, error) {
		return signalResult(13, 15, models.DirectionLong, 102, 100, 106), nil
	}}
	p := e.pipeline(solMarket(), oracle)

	report, err := p.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Signals)
	assert.Equal(t, 1, report.Undelivered)

	out := report.Outcomes[0]
	assert.False(t, out.Notified)
	assert.Contains(t, out.Error, "webhook returned 500")

	active, err := e.stores.Signals().List(ctx, models.SignalFilter{Status: models.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 1, "the signal is kept when delivery fails")

	last, err := p.LastReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Undelivered)
	assert.False(t, last.Outcomes[0].Notified)
}

func TestPipelineSkipsLockedCandidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	oracle := &fakeOracle{fn: func(models.AnalysisContext) (*models.OracleResult, error) {
		t.Fatal("oracle must not run for a locked symbol")
		return nil, nil
	}}
	p := e.pipeline(&mockMarket{}, oracle)

	ok, err := e.cache.TryLock(ctx, "lock:analysis:SOLUSDT", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	out := p.Process(ctx, models.Candidate{Symbol: "SOLUSDT", Price: 100})
	assert.Equal(t, StageLocked, out.Stage)
	assert.Empty(t, out.Error)

	_, err = e.stores.Analysis().Get(ctx, "SOLUSDT")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestPipelineBlockedByGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSignal(t, "l", "SOLUSDT", models.DirectionLong, day.Add(-time.Hour), 100, 98, 104, nil, nil)
	e.seedSignal(t, "s", "SOLUSDT", models.DirectionShort, day.Add(-time.Hour), 100, 102, 96, nil, nil)
	p := e.pipeline(&mockMarket{}, &fakeOracle{})

	out := p.Process(ctx, models.Candidate{Symbol: "SOLUSDT", Price: 100})
	assert.Equal(t, StageGate, out.Stage)
	require.NotNil(t, out.Gate)
	assert.False(t, out.Gate.AnyAllowed)
}

func TestPipelineOracleFailureLeavesMemory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	oracle := &fakeOracle{fn: func(models.AnalysisContext) (*models.OracleResult, error) {
		return nil, errors.New("oracle timeout")
	}}
	p := e.pipeline(&mockMarket{}, oracle)

	out := p.Process(ctx, models.Candidate{Symbol: "SOLUSDT", Price: 100})
	assert.Equal(t, StageOracle, out.Stage)
	assert.Contains(t, out.Error, "oracle timeout")

	_, err := e.stores.Analysis().Get(ctx, "SOLUSDT")
	assert.ErrorIs(t, err, domrepo.ErrNotFound, "a failed analysis is retried next cycle")

	// The analysis lock was released.
	ok, err := e.cache.TryLock(ctx, "lock:analysis:SOLUSDT", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
