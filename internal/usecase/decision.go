package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
	"TradeScout/pkg/util"
)

// Action is the outcome of a confidence decision.
type Action string

const (
	ActionSignal   Action = "SIGNAL"
	ActionMuted    Action = "MUTED"
	ActionRejected Action = "REJECTED"
)

// DecisionConfig holds the pass threshold, the mute length and the sizing inputs.
type DecisionConfig struct {
	ConfidenceThreshold int
	MuteDuration        time.Duration
	MaxLeverage         float64
	RiskPct             float64
	PortfolioValue      float64
	MinRewardRisk       float64
}

// DecideInput is one completed oracle analysis.
type DecideInput struct {
	Candidate     models.Candidate
	Result        *models.OracleResult
	Allowed       []models.Direction
	TriggerReason string
}

// Decision is what the decider did with an analysis.
type Decision struct {
	Symbol            string            `json:"symbol"`
	Action            Action            `json:"action"`
	Notify            bool              `json:"notify"`
	ConfidencePercent int               `json:"confidence_percent"`
	ConfluenceScore   string            `json:"confluence_score"`
	Reason            string            `json:"reason,omitempty"`
	MuteUntil         *time.Time        `json:"mute_until,omitempty"`
	MuteReason        models.MuteReason `json:"mute_reason,omitempty"`
	LowRewardRisk     bool              `json:"low_reward_risk,omitempty"`
	Sizing            *Sizing           `json:"sizing,omitempty"`
	Signal            *models.Signal    `json:"signal,omitempty"`
}

// Decider converts the oracle's confluence score into a signal or a mute and
// writes the post-analysis record.
type Decider struct {
	memory   domrepo.AnalysisMemory
	operator *Operator
	cfg      DecisionConfig
	now      func() time.Time
	metrics  domrepo.Metrics
	logger   *logger.Logger
}

func NewDecider(memory domrepo.AnalysisMemory, operator *Operator, cfg DecisionConfig, clock func() time.Time, metrics domrepo.Metrics, lgr *logger.Logger) *Decider {
	if clock == nil {
		clock = time.Now
	}
	return &Decider{
		memory:   memory,
		operator: operator,
		cfg:      cfg,
		now:      clock,
		metrics:  metrics,
		logger:   lgr.With(logger.String("component", "decider")),
	}
}

// Decide applies the threshold, records a signal when it passes and updates
// the symbol's analysis record exactly once.
func (d *Decider) Decide(ctx context.Context, in DecideInput) (*Decision, error) {
	symbol := in.Candidate.Symbol
	if err := in.Result.Validate(); err != nil {
		return nil, fmt.Errorf("decide %s: %w: %v", symbol, domrepo.ErrInvalidOracleResult, err)
	}
	now := d.now()
	res := in.Result
	pct := ConfidencePercent(res.ConfluencePoints, res.MaxPoints)
	dec := &Decision{
		Symbol:            symbol,
		ConfidencePercent: pct,
		ConfluenceScore:   res.ConfluenceScore(),
	}

	var recordErr error
	switch {
	case res.Kind == models.ResultWait:
		d.mute(dec, now, models.MuteReasonWait)
		if res.Wait != nil {
			dec.Reason = res.Wait.Reason
		}
	case pct < d.cfg.ConfidenceThreshold:
		d.mute(dec, now, models.MuteReasonLowConfidence)
		dec.Reason = fmt.Sprintf("confidence %d%% below %d%%", pct, d.cfg.ConfidenceThreshold)
	default:
		recordErr = d.emit(ctx, dec, in, pct)
	}

	rec, err := d.memory.Update(ctx, symbol, func(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
		if rec == nil {
			rec = &models.AnalysisRecord{Symbol: symbol}
		}
		at := now
		rec.LastAnalysisTime = &at
		rec.LastPrice = in.Candidate.Price
		rec.LastRVOL = in.Candidate.RVOL
		rec.AnalysisCount++
		rec.LastResult = &models.AnalysisResult{
			Kind:              res.Kind,
			ConfidencePercent: pct,
			ConfluencePoints:  res.ConfluencePoints,
			MaxPoints:         res.MaxPoints,
		}
		if dec.Action == ActionMuted && (rec.MuteUntil == nil || dec.MuteUntil.After(*rec.MuteUntil)) {
			until := *dec.MuteUntil
			rec.MuteUntil = &until
			rec.MuteReason = dec.MuteReason
		}
		return rec, nil
	})
	if err != nil {
		d.metrics.RecordError("analysis_update")
		return dec, fmt.Errorf("decide %s: update analysis record: %w", symbol, err)
	}
	if dec.Action == ActionMuted {
		// A longer existing mute wins.
		dec.MuteUntil = rec.MuteUntil
		dec.MuteReason = rec.MuteReason
	}

	d.metrics.RecordDecision(string(dec.Action))
	d.logger.Info("analysis decided",
		logger.String("symbol", symbol),
		logger.String("action", string(dec.Action)),
		logger.Int("confidence", pct),
		logger.String("score", dec.ConfluenceScore),
		logger.String("reason", dec.Reason))
	if recordErr != nil {
		return dec, recordErr
	}
	return dec, nil
}

func (d *Decider) mute(dec *Decision, now time.Time, reason models.MuteReason) {
	until := now.Add(d.cfg.MuteDuration)
	dec.Action = ActionMuted
	dec.MuteUntil = &until
	dec.MuteReason = reason
}

func (d *Decider) reject(dec *Decision, reason string) {
	dec.Action = ActionRejected
	dec.Notify = false
	dec.Reason = reason
}

// emit records the signal for a passing result. Only unexpected storage
// errors are returned; invariant violations turn into REJECTED.
func (d *Decider) emit(ctx context.Context, dec *Decision, in DecideInput, pct int) error {
	p := in.Result.Signal
	if len(in.Allowed) > 0 && !slices.Contains(in.Allowed, p.Direction) {
		d.reject(dec, fmt.Sprintf("direction %s is not allowed by the gate", p.Direction))
		return nil
	}
	sz, err := Size(p.Entry, p.StopLoss, p.TakeProfit1, d.cfg.RiskPct, d.cfg.MaxLeverage, d.cfg.PortfolioValue)
	if err != nil {
		d.reject(dec, err.Error())
		return nil
	}
	dec.Sizing = &sz
	if d.cfg.MinRewardRisk > 0 && sz.RewardRisk < d.cfg.MinRewardRisk {
		dec.LowRewardRisk = true
		d.logger.Warn("reward:risk below minimum",
			logger.String("symbol", in.Candidate.Symbol),
			logger.Float64("reward_risk", sz.RewardRisk),
			logger.Float64("min", d.cfg.MinRewardRisk))
	}

	sig := &models.Signal{
		Symbol:            in.Candidate.Symbol,
		Direction:         p.Direction,
		EntryPrice:        p.Entry,
		StopLoss:          p.StopLoss,
		TakeProfit1:       p.TakeProfit1,
		TakeProfit2:       p.TakeProfit2,
		TakeProfit3:       p.TakeProfit3,
		ConfluenceScore:   in.Result.ConfluenceScore(),
		ConfidencePercent: pct,
		ConfidenceLabel:   ConfidenceLabel(pct),
		TriggerReason:     in.TriggerReason,
		Leverage:          sz.Leverage,
		PositionSize:      sz.PositionSize,
		CreatedAt:         d.now(),
	}
	recorded, err := d.operator.RecordSignal(ctx, sig)
	switch {
	case errors.Is(err, domrepo.ErrDailyLimit), errors.Is(err, domrepo.ErrInvalidSignal):
		d.reject(dec, err.Error())
		return nil
	case err != nil:
		d.reject(dec, "signal store unavailable")
		return err
	}
	dec.Action = ActionSignal
	dec.Notify = true
	dec.Signal = recorded
	return nil
}

// Mute suppresses analysis of symbol until until. A mute never moves an
// existing later deadline backwards; the effective record is returned.
func (d *Decider) Mute(ctx context.Context, symbol string, until time.Time, reason models.MuteReason) (*models.AnalysisRecord, error) {
	symbol = util.NormalizeSymbol(symbol)
	if !until.After(d.now()) {
		return nil, fmt.Errorf("mute %s until %s: %w", symbol, until.Format(time.RFC3339), domrepo.ErrMuteInPast)
	}
	if reason == "" {
		reason = models.MuteReasonManual
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("mute %s: unknown reason %q", symbol, reason)
	}
	rec, err := d.memory.Update(ctx, symbol, func(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
		if rec == nil {
			rec = &models.AnalysisRecord{Symbol: symbol}
		}
		if rec.MuteUntil == nil || until.After(*rec.MuteUntil) {
			u := until.UTC()
			rec.MuteUntil = &u
			rec.MuteReason = reason
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mute %s: %w", symbol, err)
	}
	d.logger.Info("symbol muted", logger.String("symbol", symbol), logger.Time("until", *rec.MuteUntil), logger.String("reason", string(rec.MuteReason)))
	return rec, nil
}

// MuteFor mutes symbol for duration from now.
func (d *Decider) MuteFor(ctx context.Context, symbol string, duration time.Duration, reason models.MuteReason) (*models.AnalysisRecord, error) {
	return d.Mute(ctx, symbol, d.now().Add(duration), reason)
}

// Unmute clears the mute of a known symbol.
func (d *Decider) Unmute(ctx context.Context, symbol string) (*models.AnalysisRecord, error) {
	symbol = util.NormalizeSymbol(symbol)
	if _, err := d.memory.Get(ctx, symbol); err != nil {
		return nil, fmt.Errorf("unmute %s: %w", symbol, err)
	}
	rec, err := d.memory.Update(ctx, symbol, func(rec *models.AnalysisRecord) (*models.AnalysisRecord, error) {
		if rec == nil {
			return nil, domrepo.ErrNotFound
		}
		rec.MuteUntil = nil
		rec.MuteReason = ""
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("unmute %s: %w", symbol, err)
	}
	d.logger.Info("symbol unmuted", logger.String("symbol", symbol))
	return rec, nil
}

// MuteDuration is the configured automatic mute length.
func (d *Decider) MuteDuration() time.Duration { return d.cfg.MuteDuration }
