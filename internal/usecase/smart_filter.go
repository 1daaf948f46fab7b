package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"
)

// FilterDecision is the smart filter verdict.
type FilterDecision string

const (
	DecisionAnalyze FilterDecision = "ANALYZE"
	DecisionSkip    FilterDecision = "SKIP"
)

// Filter reasons.
const (
	ReasonMuted       = "MUTED"
	ReasonNewAsset    = "NEW_ASSET"
	ReasonTimeExpired = "TIME_EXPIRED"
	ReasonPriceDelta  = "PRICE_DELTA"
	ReasonNoChange    = "NO_SIGNIFICANT_CHANGE"
)

// FilterResult is the verdict for one candidate.
type FilterResult struct {
	Symbol   string                 `json:"symbol"`
	Decision FilterDecision         `json:"decision"`
	Reason   string                 `json:"reason"`
	Record   *models.AnalysisRecord `json:"-"`
}

// FilterConfig holds the re-analysis triggers.
type FilterConfig struct {
	ExpireAfter   time.Duration
	PriceDeltaPct float64
}

// SmartFilter decides whether a candidate deserves another analysis.
type SmartFilter struct {
	memory       domrepo.AnalysisMemory
	observations domrepo.ObservationList
	cfg          FilterConfig
	now          func() time.Time
	metrics      domrepo.Metrics
	logger       *logger.Logger
}

func NewSmartFilter(memory domrepo.AnalysisMemory, observations domrepo.ObservationList, cfg FilterConfig, clock func() time.Time, metrics domrepo.Metrics, lgr *logger.Logger) *SmartFilter {
	if clock == nil {
		clock = time.Now
	}
	return &SmartFilter{
		memory:       memory,
		observations: observations,
		cfg:          cfg,
		now:          clock,
		metrics:      metrics,
		logger:       lgr.With(logger.String("component", "smart_filter")),
	}
}

// Evaluate applies the rules in order; the first match wins. rec is nil for a
// symbol never seen before.
func (f *SmartFilter) Evaluate(c models.Candidate, rec *models.AnalysisRecord, now time.Time) FilterResult {
	res := FilterResult{Symbol: c.Symbol, Record: rec}
	switch {
	case rec.IsMuted(now):
		res.Decision, res.Reason = DecisionSkip, ReasonMuted
	case !rec.Analyzed():
		res.Decision, res.Reason = DecisionAnalyze, ReasonNewAsset
	case now.Sub(*rec.LastAnalysisTime) > f.cfg.ExpireAfter:
		res.Decision, res.Reason = DecisionAnalyze, ReasonTimeExpired
	case priceMoved(rec.LastPrice, c.Price, f.cfg.PriceDeltaPct/100):
		res.Decision, res.Reason = DecisionAnalyze, ReasonPriceDelta
	default:
		res.Decision, res.Reason = DecisionSkip, ReasonNoChange
	}
	return res
}

// a zero last price cannot anchor a delta; treat it as moved.
func priceMoved(last, price, threshold float64) bool {
	if last <= 0 {
		return true
	}
	return math.Abs(price-last)/last > threshold
}

// Apply loads the symbol's record, evaluates it and records a skipped symbol
// in the observation list.
func (f *SmartFilter) Apply(ctx context.Context, c models.Candidate) (FilterResult, error) {
	now := f.now()
	rec, err := f.memory.Get(ctx, c.Symbol)
	if err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		return FilterResult{}, fmt.Errorf("filter %s: %w", c.Symbol, err)
	}
	res := f.Evaluate(c, rec, now)
	f.metrics.RecordFilterDecision(string(res.Decision), res.Reason)

	if res.Reason == ReasonNoChange {
		if _, err := f.observations.Touch(ctx, c.Symbol, res.Reason, now); err != nil {
			f.logger.Warn("observation update failed", logger.String("symbol", c.Symbol), logger.Error(err))
		}
	}
	f.logger.Debug("filter decision",
		logger.String("symbol", c.Symbol),
		logger.String("decision", string(res.Decision)),
		logger.String("reason", res.Reason))
	return res, nil
}
