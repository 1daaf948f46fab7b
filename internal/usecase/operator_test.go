package usecase

import (
	"context"
	"testing"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLevels(t *testing.T) {
	cases := []struct {
		name string
		s    models.Signal
		ok   bool
	}{
		{"long", models.Signal{Symbol: "A", Direction: models.DirectionLong, EntryPrice: 100, StopLoss: 98, TakeProfit1: 104, TakeProfit2: ptr(108), TakeProfit3: ptr(112)}, true},
		{"short", models.Signal{Symbol: "A", Direction: models.DirectionShort, EntryPrice: 100, StopLoss: 102, TakeProfit1: 96, TakeProfit3: ptr(90)}, true},
		{"long stop above entry", models.Signal{Symbol: "A", Direction: models.DirectionLong, EntryPrice: 100, StopLoss: 101, TakeProfit1: 104}, false},
		{"short stop below entry", models.Signal{Symbol: "A", Direction: models.DirectionShort, EntryPrice: 100, StopLoss: 99, TakeProfit1: 96}, false},
		{"long targets out of order", models.Signal{Symbol: "A", Direction: models.DirectionLong, EntryPrice: 100, StopLoss: 98, TakeProfit1: 104, TakeProfit2: ptr(103)}, false},
		{"tp1 behind entry", models.Signal{Symbol: "A", Direction: models.DirectionLong, EntryPrice: 100, StopLoss: 98, TakeProfit1: 99}, false},
		{"missing direction", models.Signal{Symbol: "A", EntryPrice: 100, StopLoss: 98, TakeProfit1: 104}, false},
		{"zero entry", models.Signal{Symbol: "A", Direction: models.DirectionLong, StopLoss: 98, TakeProfit1: 104}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateLevels(&tc.s)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domrepo.ErrInvalidSignal)
		})
	}
}

func newSignal(symbol string, dir models.Direction) *models.Signal {
	if dir == models.DirectionShort {
		return &models.Signal{Symbol: symbol, Direction: dir, EntryPrice: 100, StopLoss: 102, TakeProfit1: 96, ConfidencePercent: 80}
	}
	return &models.Signal{Symbol: symbol, Direction: dir, EntryPrice: 100, StopLoss: 98, TakeProfit1: 104, ConfidencePercent: 93}
}

func TestRecordSignalDailyLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.operator.RecordSignal(ctx, newSignal("solusdt", models.DirectionLong))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "SOLUSDT", s.Symbol)
	assert.Equal(t, models.StatusActive, s.Status)
	assert.Equal(t, "VERY_HIGH", s.ConfidenceLabel)
	assert.True(t, s.CreatedAt.Equal(day))

	_, err = e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionLong))
	assert.ErrorIs(t, err, domrepo.ErrDailyLimit)

	_, err = e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionShort))
	require.NoError(t, err, "the other direction has its own limit")

	e.clk.Set(day.Add(13 * time.Hour))
	_, err = e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionLong))
	require.NoError(t, err, "limit resets at UTC midnight")

	all, err := e.operator.ListSignals(ctx, models.SignalFilter{Symbol: "SOLUSDT"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Len(t, e.events.all(), 3)
}

func TestRecordSignalDailyLimitUsesSignalDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionLong))
	require.NoError(t, err)

	yesterday := newSignal("SOLUSDT", models.DirectionLong)
	yesterday.CreatedAt = day.Add(-20 * time.Hour)
	_, err = e.operator.RecordSignal(ctx, yesterday)
	require.NoError(t, err, "a newer signal on a later day does not count")

	again := newSignal("SOLUSDT", models.DirectionLong)
	again.CreatedAt = day.Add(-18 * time.Hour)
	_, err = e.operator.RecordSignal(ctx, again)
	assert.ErrorIs(t, err, domrepo.ErrDailyLimit, "the backdated day already has a signal")
}

func TestRecordSignalRejectsBadLevels(t *testing.T) {
	e := newEnv(t)
	bad := newSignal("SOLUSDT", models.DirectionLong)
	bad.StopLoss = 105
	_, err := e.operator.RecordSignal(context.Background(), bad)
	assert.ErrorIs(t, err, domrepo.ErrInvalidSignal)
}

func TestRecordSignalBusyLock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.operator.lockWait = time.Millisecond
	ok, err := e.cache.TryLock(ctx, "lock:signal:SOLUSDT:LONG", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionLong))
	assert.ErrorIs(t, err, domrepo.ErrBusy)

	require.NoError(t, e.cache.Unlock(ctx, "lock:signal:SOLUSDT:LONG"))
	_, err = e.operator.RecordSignal(ctx, newSignal("SOLUSDT", models.DirectionLong))
	assert.NoError(t, err)
}

func TestCloseSignal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSignal(t, "a", "SOLUSDT", models.DirectionLong, day.Add(-time.Hour), 100, 98, 104, nil, nil)

	_, err := e.operator.CloseSignal(ctx, "a", models.StatusHitTP1, 105)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition, "automatic statuses are not manual")

	s, err := e.operator.CloseSignal(ctx, "a", models.StatusInvalidated, 99)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvalidated, s.Status)
	require.Len(t, s.History, 2)
	assert.Equal(t, "STATUS_CHANGE: Active -> Invalidated", s.History[1].Event)

	_, err = e.operator.CloseSignal(ctx, "a", models.StatusClosedManual, 99)
	assert.ErrorIs(t, err, domrepo.ErrInvalidTransition, "terminal states are final")

	_, err = e.operator.CloseSignal(ctx, "missing", models.StatusClosedManual, 99)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	st, err := e.operator.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Zero(t, st.Active)
}

func TestListMuted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.decider.MuteFor(ctx, "SOLUSDT", time.Hour, "")
	require.NoError(t, err)
	_, err = e.decider.MuteFor(ctx, "ETHUSDT", 3*time.Hour, "")
	require.NoError(t, err)

	muted, err := e.operator.ListMuted(ctx)
	require.NoError(t, err)
	assert.Len(t, muted, 2)

	e.clk.Advance(2 * time.Hour)
	muted, err = e.operator.ListMuted(ctx)
	require.NoError(t, err)
	require.Len(t, muted, 1)
	assert.Equal(t, "ETHUSDT", muted[0].Symbol)

	all, err := e.operator.ListAnalysis(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
