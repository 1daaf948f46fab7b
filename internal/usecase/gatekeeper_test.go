package usecase

import (
	"context"
	"testing"
	"time"

	"TradeScout/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dirGate(t *testing.T, res GateResult, d models.Direction) DirectionGate {
	t.Helper()
	for _, g := range res.Directions {
		if g.Direction == d {
			return g
		}
	}
	t.Fatalf("direction %s missing", d)
	return DirectionGate{}
}

func TestGateNoSignalsAllowsBoth(t *testing.T) {
	e := newEnv(t)
	res, err := e.gate.Check(context.Background(), "SOLUSDT", nil, 100)
	require.NoError(t, err)
	assert.True(t, res.AnyAllowed)
	assert.Equal(t, []models.Direction{models.DirectionLong, models.DirectionShort}, res.Allowed)
}

func TestGateDailyLimitIsDirectional(t *testing.T) {
	e := newEnv(t)
	e.seedSignal(t, "today", "SOLUSDT", models.DirectionLong, day.Add(-2*time.Hour), 100, 98, 104, nil, nil)

	res, err := e.gate.Check(context.Background(), "SOLUSDT", nil, 100)
	require.NoError(t, err)
	long := dirGate(t, res, models.DirectionLong)
	assert.False(t, long.Allowed)
	assert.Equal(t, BlockDailyLimit, long.Blocking)
	assert.True(t, dirGate(t, res, models.DirectionShort).Allowed)
	assert.Equal(t, []models.Direction{models.DirectionShort}, res.Allowed)

	// Yesterday's signal does not count toward today's limit.
	e.clk.Set(day.Add(24 * time.Hour))
	long2 := models.DirectionLong
	res, err = e.gate.Check(context.Background(), "SOLUSDT", &long2, 101)
	require.NoError(t, err)
	require.Len(t, res.Directions, 1)
	assert.Equal(t, BlockActiveTrade, res.Directions[0].Blocking)
}

func TestGateClosesActiveTradeOnStop(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSignal(t, "old", "SOLUSDT", models.DirectionLong, day.Add(-26*time.Hour), 100, 98, 104, nil, nil)
	long := models.DirectionLong

	res, err := e.gate.Check(ctx, "SOLUSDT", &long, 101)
	require.NoError(t, err)
	assert.False(t, res.AnyAllowed)
	assert.Equal(t, BlockActiveTrade, res.Directions[0].Blocking)
	sig, err := e.stores.Signals().Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, sig.Status)
	assert.Len(t, sig.History, 1, "blocked check writes nothing")

	res, err = e.gate.Check(ctx, "SOLUSDT", &long, 97)
	require.NoError(t, err)
	assert.True(t, res.AnyAllowed)
	assert.Equal(t, models.StatusHitSL, res.Directions[0].ClosedStatus)

	sig, err = e.stores.Signals().Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHitSL, sig.Status)
	require.Len(t, sig.History, 2)
	assert.Equal(t, "STATUS_CHANGE: Active -> HitSL", sig.History[1].Event)
	assert.InDelta(t, 97, sig.History[1].Price, 1e-9)

	evs := e.events.all()
	require.Len(t, evs, 1)
	assert.Equal(t, models.StatusHitSL, evs[0].To)
}

func TestGateClosesShortOnTP1(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedSignal(t, "short", "ETHUSDT", models.DirectionShort, day.Add(-30*time.Hour), 100, 102, 96, ptr(92), nil)
	short := models.DirectionShort

	res, err := e.gate.Check(ctx, "ETHUSDT", &short, 95)
	require.NoError(t, err)
	assert.True(t, res.AnyAllowed)

	sig, err := e.stores.Signals().Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, models.StatusHitTP1, sig.Status, "gate checks only SL and TP1")

	// Once closed, both directions are open again.
	res, err = e.gate.Check(ctx, "ETHUSDT", nil, 95)
	require.NoError(t, err)
	assert.Equal(t, []models.Direction{models.DirectionLong, models.DirectionShort}, res.Allowed)
}

func TestGateShortStopIsDirectionAware(t *testing.T) {
	e := newEnv(t)
	e.seedSignal(t, "short", "ETHUSDT", models.DirectionShort, day.Add(-30*time.Hour), 100, 102, 96, nil, nil)
	short := models.DirectionShort

	res, err := e.gate.Check(context.Background(), "ETHUSDT", &short, 102)
	require.NoError(t, err)
	assert.True(t, res.AnyAllowed)
	assert.Equal(t, models.StatusHitSL, res.Directions[0].ClosedStatus)
}
