package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/util"
)

// BlockKind names what blocked a direction.
type BlockKind string

const (
	BlockNone        BlockKind = ""
	BlockDailyLimit  BlockKind = "DAILY_LIMIT"
	BlockActiveTrade BlockKind = "ACTIVE_TRADE"
)

// DirectionGate is the gate verdict for one direction.
type DirectionGate struct {
	Direction    models.Direction    `json:"direction"`
	Allowed      bool                `json:"allowed"`
	Reason       string              `json:"reason"`
	Blocking     BlockKind           `json:"blocking_kind,omitempty"`
	ClosedID     string              `json:"closed_signal_id,omitempty"`
	ClosedStatus models.SignalStatus `json:"closed_status,omitempty"`
}

// GateResult aggregates the per-direction verdicts.
type GateResult struct {
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	Directions []DirectionGate    `json:"directions"`
	AnyAllowed bool               `json:"any_allowed"`
	Allowed    []models.Direction `json:"allowed"`
}

var errNoLongerActive = errors.New("signal no longer active")

// Gatekeeper prevents duplicate and conflicting signals, closing a prior
// trade whose stop or first target was crossed.
type Gatekeeper struct {
	signals   domrepo.SignalStore
	announcer *Announcer
	now       func() time.Time
	metrics   domrepo.Metrics
	logger    *logger.Logger
}

func NewGatekeeper(signals domrepo.SignalStore, announcer *Announcer, clock func() time.Time, metrics domrepo.Metrics, lgr *logger.Logger) *Gatekeeper {
	if clock == nil {
		clock = time.Now
	}
	return &Gatekeeper{
		signals:   signals,
		announcer: announcer,
		now:       clock,
		metrics:   metrics,
		logger:    lgr.With(logger.String("component", "gatekeeper")),
	}
}

// Check evaluates direction, or both directions when nil, at price.
func (g *Gatekeeper) Check(ctx context.Context, symbol string, direction *models.Direction, price float64) (GateResult, error) {
	dirs := models.Directions
	if direction != nil {
		dirs = []models.Direction{*direction}
	}
	// Newest first.
	history, err := g.signals.List(ctx, models.SignalFilter{Symbol: symbol})
	if err != nil {
		return GateResult{}, fmt.Errorf("gate %s: %w", symbol, err)
	}

	res := GateResult{Symbol: symbol, Price: price, Allowed: []models.Direction{}}
	now := g.now()
	for _, d := range dirs {
		dg, err := g.checkDirection(ctx, history, d, price, now)
		if err != nil {
			return GateResult{}, fmt.Errorf("gate %s %s: %w", symbol, d, err)
		}
		res.Directions = append(res.Directions, dg)
		if dg.Allowed {
			res.AnyAllowed = true
			res.Allowed = append(res.Allowed, d)
			g.metrics.RecordGateResult(string(d), "allowed")
		} else {
			g.metrics.RecordGateResult(string(d), string(dg.Blocking))
		}
	}
	return res, nil
}

func (g *Gatekeeper) checkDirection(ctx context.Context, history []models.Signal, d models.Direction, price float64, now time.Time) (DirectionGate, error) {
	dg := DirectionGate{Direction: d}
	for i := range history {
		if history[i].Direction == d && util.SameUTCDay(history[i].CreatedAt, now) {
			dg.Reason = fmt.Sprintf("%s signal already recorded today (%s)", d, history[i].ID)
			dg.Blocking = BlockDailyLimit
			return dg, nil
		}
	}

	var active *models.Signal
	for i := range history {
		if history[i].Direction == d && history[i].Status == models.StatusActive {
			active = &history[i]
			break
		}
	}
	if active == nil {
		dg.Allowed = true
		dg.Reason = "no active trade"
		return dg, nil
	}

	var to models.SignalStatus
	switch {
	case active.StopHit(price):
		to = models.StatusHitSL
	case active.TargetHit(active.TakeProfit1, price):
		to = models.StatusHitTP1
	default:
		dg.Reason = fmt.Sprintf("signal %s still active", active.ID)
		dg.Blocking = BlockActiveTrade
		return dg, nil
	}

	updated, err := g.signals.Update(ctx, active.ID, func(s *models.Signal) error {
		if s.Status != models.StatusActive {
			return errNoLongerActive
		}
		return s.Transition(to, price, now)
	})
	switch {
	case errors.Is(err, errNoLongerActive):
		dg.Allowed = true
		dg.Reason = "prior trade already closed"
		return dg, nil
	case err != nil:
		return dg, err
	}

	g.logger.Info("prior trade closed by gate check",
		logger.String("signal_id", updated.ID),
		logger.String("symbol", updated.Symbol),
		logger.String("status", string(to)),
		logger.Float64("price", price))
	if g.announcer != nil {
		g.announcer.StatusChanged(ctx, updated, models.StatusActive, price, now)
	}
	dg.Allowed = true
	dg.Reason = fmt.Sprintf("prior trade closed: %s", to)
	dg.ClosedID = updated.ID
	dg.ClosedStatus = to
	return dg, nil
}
