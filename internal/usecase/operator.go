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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Operator owns signal recording and the manual lifecycle, and answers the
// read-side queries of the operator surfaces.
type Operator struct {
	memory       domrepo.AnalysisMemory
	observations domrepo.ObservationList
	signals      domrepo.SignalStore
	locker       domrepo.Locker
	announcer    *Announcer
	lockTTL      time.Duration
	lockWait     time.Duration
	now          func() time.Time
	metrics      domrepo.Metrics
	logger       *logger.Logger
}

func NewOperator(
	memory domrepo.AnalysisMemory,
	observations domrepo.ObservationList,
	signals domrepo.SignalStore,
	locker domrepo.Locker,
	announcer *Announcer,
	lockTTL time.Duration,
	clock func() time.Time,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
) *Operator {
	if clock == nil {
		clock = time.Now
	}
	return &Operator{
		memory:       memory,
		observations: observations,
		signals:      signals,
		locker:       locker,
		announcer:    announcer,
		lockTTL:      lockTTL,
		lockWait:     50 * time.Millisecond,
		now:          clock,
		metrics:      metrics,
		logger:       lgr.With(logger.String("component", "operator")),
	}
}

// RecordSignal validates and stores a new Active signal. At most one signal
// per symbol and direction may be recorded per UTC day.
func (o *Operator) RecordSignal(ctx context.Context, sig *models.Signal) (*models.Signal, error) {
	sig.Symbol = util.NormalizeSymbol(sig.Symbol)
	if err := ValidateLevels(sig); err != nil {
		return nil, err
	}
	now := o.now()
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.CreatedAt = sig.CreatedAt.UTC()
	sig.Status = models.StatusActive
	sig.History = []models.HistoryEvent{{Timestamp: sig.CreatedAt, Event: models.EventSignalCreated, Price: sig.EntryPrice}}
	if sig.ConfidenceLabel == "" && sig.ConfidencePercent > 0 {
		sig.ConfidenceLabel = ConfidenceLabel(sig.ConfidencePercent)
	}

	key := fmt.Sprintf("lock:signal:%s:%s", sig.Symbol, sig.Direction)
	err := o.withLock(ctx, key, func() error {
		since := util.StartOfUTCDay(sig.CreatedAt)
		until := since.Add(24 * time.Hour)
		today, err := o.signals.List(ctx, models.SignalFilter{
			Symbol:    sig.Symbol,
			Direction: sig.Direction,
			Since:     &since,
			Before:    &until,
			Limit:     1,
		})
		if err != nil {
			return err
		}
		if len(today) > 0 {
			return fmt.Errorf("%w: %s %s (%s)", domrepo.ErrDailyLimit, sig.Symbol, sig.Direction, today[0].ID)
		}
		return o.signals.Create(ctx, sig)
	})
	if err != nil {
		return nil, fmt.Errorf("record signal: %w", err)
	}

	o.logger.Info("signal recorded",
		logger.String("signal_id", sig.ID),
		logger.String("symbol", sig.Symbol),
		logger.String("direction", string(sig.Direction)),
		logger.Float64("entry", sig.EntryPrice))
	if o.announcer != nil {
		o.announcer.SignalCreated(ctx, sig)
	}
	o.refreshStats(ctx)
	return sig, nil
}

// ValidateLevels checks the direction and the ordering of stop, entry and targets.
func ValidateLevels(s *models.Signal) error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", domrepo.ErrInvalidSignal)
	}
	if s.Direction != models.DirectionLong && s.Direction != models.DirectionShort {
		return fmt.Errorf("%w: direction %q", domrepo.ErrInvalidSignal, s.Direction)
	}
	if s.EntryPrice <= 0 || s.StopLoss <= 0 || s.TakeProfit1 <= 0 {
		return fmt.Errorf("%w: entry, stop loss and tp1 must be positive", domrepo.ErrInvalidSignal)
	}
	// sign is +1 when profits are above entry.
	sign := 1.0
	if s.Direction == models.DirectionShort {
		sign = -1
	}
	if sign*(s.EntryPrice-s.StopLoss) <= 0 {
		return fmt.Errorf("%w: stop loss %.8f on the wrong side of entry %.8f for %s",
			domrepo.ErrInvalidSignal, s.StopLoss, s.EntryPrice, s.Direction)
	}
	prev := s.EntryPrice
	for i, tp := range []*float64{&s.TakeProfit1, s.TakeProfit2, s.TakeProfit3} {
		if tp == nil {
			continue
		}
		if sign*(*tp-prev) <= 0 {
			return fmt.Errorf("%w: tp%d %.8f out of order for %s", domrepo.ErrInvalidSignal, i+1, *tp, s.Direction)
		}
		prev = *tp
	}
	return nil
}

// CloseSignal moves an Active signal to a manual terminal status.
func (o *Operator) CloseSignal(ctx context.Context, id string, status models.SignalStatus, price float64) (*models.Signal, error) {
	if !status.IsManualTerminal() {
		return nil, fmt.Errorf("%w: %s is not a manual status", domrepo.ErrInvalidTransition, status)
	}
	now := o.now()
	updated, err := o.signals.Update(ctx, id, func(s *models.Signal) error {
		if s.Status != models.StatusActive {
			return fmt.Errorf("%w: signal %s is %s", domrepo.ErrInvalidTransition, s.ID, s.Status)
		}
		return s.Transition(status, price, now)
	})
	if err != nil {
		return nil, fmt.Errorf("close signal %s: %w", id, err)
	}
	o.logger.Info("signal closed manually", logger.String("signal_id", id), logger.String("status", string(status)))
	if o.announcer != nil {
		o.announcer.StatusChanged(ctx, updated, models.StatusActive, price, now)
	}
	o.refreshStats(ctx)
	return updated, nil
}

// ExpireStale moves Active signals created before the current UTC day to
// ExpiredDaily. prices supplies the recorded price; entry is used when absent.
func (o *Operator) ExpireStale(ctx context.Context, prices map[string]float64) ([]Transition, error) {
	active, err := o.signals.List(ctx, models.SignalFilter{Status: models.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("expire stale: %w", err)
	}
	now := o.now()
	dayStart := util.StartOfUTCDay(now)
	var out []Transition
	for i := range active {
		s := &active[i]
		if !s.CreatedAt.Before(dayStart) {
			continue
		}
		price, ok := prices[s.Symbol]
		if !ok {
			price = s.EntryPrice
		}
		updated, err := o.signals.Update(ctx, s.ID, func(cur *models.Signal) error {
			if cur.Status != models.StatusActive {
				return errNoLongerActive
			}
			return cur.Transition(models.StatusExpiredDaily, price, now)
		})
		if errors.Is(err, errNoLongerActive) {
			continue
		}
		if err != nil {
			o.metrics.RecordError("expire_signal")
			o.logger.Warn("expire failed", logger.String("signal_id", s.ID), logger.Error(err))
			continue
		}
		if o.announcer != nil {
			o.announcer.StatusChanged(ctx, updated, models.StatusActive, price, now)
		}
		out = append(out, Transition{SignalID: s.ID, Symbol: s.Symbol, From: models.StatusActive, To: models.StatusExpiredDaily, Price: price})
	}
	return out, nil
}

func (o *Operator) GetAnalysis(ctx context.Context, symbol string) (*models.AnalysisRecord, error) {
	return o.memory.Get(ctx, util.NormalizeSymbol(symbol))
}

func (o *Operator) ListAnalysis(ctx context.Context) ([]models.AnalysisRecord, error) {
	return o.memory.List(ctx)
}

// ListMuted returns the records muted right now.
func (o *Operator) ListMuted(ctx context.Context) ([]models.AnalysisRecord, error) {
	all, err := o.memory.List(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now()
	out := make([]models.AnalysisRecord, 0)
	for i := range all {
		if all[i].IsMuted(now) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func (o *Operator) ListObservations(ctx context.Context) ([]models.ObservationEntry, error) {
	return o.observations.List(ctx)
}

func (o *Operator) ListSignals(ctx context.Context, f models.SignalFilter) ([]models.Signal, error) {
	return o.signals.List(ctx, f)
}

func (o *Operator) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	return o.signals.Get(ctx, id)
}

func (o *Operator) Stats(ctx context.Context) (models.SignalStats, error) {
	st, err := o.signals.Stats(ctx)
	if err != nil {
		return st, err
	}
	o.metrics.RecordSignalStats(st)
	return st, nil
}

func (o *Operator) refreshStats(ctx context.Context) {
	if _, err := o.Stats(ctx); err != nil {
		o.logger.Warn("stats refresh failed", logger.Error(err))
	}
}

// withLock runs fn while holding key, waiting briefly for a concurrent holder.
func (o *Operator) withLock(ctx context.Context, key string, fn func() error) error {
	if o.locker == nil {
		return fn()
	}
	acquire := func() error {
		ok, err := o.locker.TryLock(ctx, key, o.lockTTL)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return domrepo.ErrBusy
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(o.lockWait), 40), ctx)
	if err := backoff.Retry(acquire, policy); err != nil {
		return fmt.Errorf("acquire %s: %w", key, err)
	}
	defer func() {
		if err := o.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			o.logger.Warn("unlock failed", logger.String("key", key), logger.Error(err))
		}
	}()
	return fn()
}
