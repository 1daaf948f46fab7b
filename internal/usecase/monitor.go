package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
)

// Transition is one status change applied during a run.
type Transition struct {
	SignalID string              `json:"signal_id"`
	Symbol   string              `json:"symbol"`
	From     models.SignalStatus `json:"from"`
	To       models.SignalStatus `json:"to"`
	Price    float64             `json:"price"`
}

// MonitorReport summarizes one monitor run.
type MonitorReport struct {
	StartedAt   time.Time          `json:"started_at"`
	Active      int                `json:"active"`
	Checked     int                `json:"checked"`
	Transitions []Transition       `json:"transitions"`
	Expired     []Transition       `json:"expired,omitempty"`
	NoPrice     []string           `json:"no_price,omitempty"`
	Errors      int                `json:"errors"`
	Stats       models.SignalStats `json:"stats"`
	Duration    time.Duration      `json:"duration"`
}

// Monitor re-prices Active signals and advances them when a level is crossed.
// A signal that leaves Active is not monitored again.
type Monitor struct {
	signals     domrepo.SignalStore
	prices      domrepo.PriceSource
	operator    *Operator
	announcer   *Announcer
	expireDaily bool
	now         func() time.Time
	metrics     domrepo.Metrics
	logger      *logger.Logger
}

func NewMonitor(signals domrepo.SignalStore, prices domrepo.PriceSource, operator *Operator, announcer *Announcer, expireDaily bool, clock func() time.Time, metrics domrepo.Metrics, lgr *logger.Logger) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		signals:     signals,
		prices:      prices,
		operator:    operator,
		announcer:   announcer,
		expireDaily: expireDaily,
		now:         clock,
		metrics:     metrics,
		logger:      lgr.With(logger.String("component", "monitor")),
	}
}

// Evaluate returns the status price moves s to, first match wins:
// stop, TP3, TP2, TP1.
func Evaluate(s *models.Signal, price float64) (models.SignalStatus, bool) {
	switch {
	case s.StopHit(price):
		return models.StatusHitSL, true
	case s.TakeProfit3 != nil && s.TargetHit(*s.TakeProfit3, price):
		return models.StatusHitTP3, true
	case s.TakeProfit2 != nil && s.TargetHit(*s.TakeProfit2, price):
		return models.StatusHitTP2, true
	case s.TargetHit(s.TakeProfit1, price):
		return models.StatusHitTP1, true
	}
	return "", false
}

// RunOnce performs one monitoring pass. Errors on single signals are counted
// and logged; only failing to load the signals or every price fails the run.
func (m *Monitor) RunOnce(ctx context.Context) (*MonitorReport, error) {
	start := m.now()
	report := &MonitorReport{StartedAt: start, Transitions: []Transition{}}

	active, err := m.signals.List(ctx, models.SignalFilter{Status: models.StatusActive})
	if err != nil {
		m.metrics.RecordError("monitor_load")
		return nil, fmt.Errorf("monitor: load active signals: %w", err)
	}
	report.Active = len(active)
	if len(active) == 0 {
		return report, nil
	}

	seen := make(map[string]struct{})
	symbols := make([]string, 0)
	for i := range active {
		if _, ok := seen[active[i].Symbol]; !ok {
			seen[active[i].Symbol] = struct{}{}
			symbols = append(symbols, active[i].Symbol)
		}
	}
	prices, err := m.prices.Prices(ctx, symbols)
	if err != nil && len(prices) == 0 {
		m.metrics.RecordError("monitor_prices")
		return nil, fmt.Errorf("monitor: fetch prices: %w", err)
	}

	expired := make(map[string]struct{})
	if m.expireDaily && m.operator != nil {
		report.Expired, err = m.operator.ExpireStale(ctx, prices)
		if err != nil {
			m.logger.Warn("daily expiry failed", logger.Error(err))
		}
		for _, t := range report.Expired {
			expired[t.SignalID] = struct{}{}
		}
	}

	for i := range active {
		s := &active[i]
		if _, ok := expired[s.ID]; ok {
			continue
		}
		price, ok := prices[s.Symbol]
		if !ok {
			report.NoPrice = append(report.NoPrice, s.Symbol)
			m.logger.Warn("no price, signal left untouched", logger.String("signal_id", s.ID), logger.String("symbol", s.Symbol))
			continue
		}
		report.Checked++
		t, err := m.check(ctx, s, price)
		if err != nil {
			report.Errors++
			m.metrics.RecordError("monitor_update")
			m.logger.Error("signal update failed", logger.String("signal_id", s.ID), logger.Error(err))
			continue
		}
		if t != nil {
			report.Transitions = append(report.Transitions, *t)
		}
	}

	st, err := m.signals.Stats(ctx)
	if err != nil {
		m.logger.Warn("stats refresh failed", logger.Error(err))
	} else {
		report.Stats = st
		m.metrics.RecordSignalStats(st)
	}
	report.Duration = m.now().Sub(start)
	m.metrics.RecordLatency("monitor", report.Duration.Seconds())
	m.logger.Info("monitor run finished",
		logger.Int("active", report.Active),
		logger.Int("checked", report.Checked),
		logger.Int("transitions", len(report.Transitions)),
		logger.Int("errors", report.Errors))
	return report, nil
}

func (m *Monitor) check(ctx context.Context, s *models.Signal, price float64) (*Transition, error) {
	now := m.now()
	to, hit := Evaluate(s, price)
	updated, err := m.signals.Update(ctx, s.ID, func(cur *models.Signal) error {
		if cur.Status != models.StatusActive {
			return errNoLongerActive
		}
		if !hit {
			cur.LastCheckedAt = &now
			return nil
		}
		return cur.Transition(to, price, now)
	})
	if errors.Is(err, errNoLongerActive) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !hit {
		m.logger.Debug("signal still active",
			logger.String("signal_id", s.ID),
			logger.String("symbol", s.Symbol),
			logger.Float64("price", price),
			logger.Float64("unrealized_pnl", s.UnrealizedPnL(price)))
		return nil, nil
	}
	m.logger.Info("signal status changed",
		logger.String("signal_id", s.ID),
		logger.String("symbol", s.Symbol),
		logger.String("to", string(to)),
		logger.Float64("price", price))
	if m.announcer != nil {
		m.announcer.StatusChanged(ctx, updated, models.StatusActive, price, now)
	}
	return &Transition{SignalID: s.ID, Symbol: s.Symbol, From: models.StatusActive, To: to, Price: price}, nil
}
