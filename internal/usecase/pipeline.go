package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	domsvc "TradeScout/internal/domain/service"
	"TradeScout/pkg/cache"
	"TradeScout/pkg/logger"
)

const lastCycleKey = "cycle:last"

// Stages at which a candidate left the pipeline.
const (
	StageLocked   = "locked"
	StageFilter   = "filter"
	StageGate     = "gate"
	StageOracle   = "oracle"
	StageDecision = "decision"
)

// CandidateOutcome traces one candidate through the pipeline.
type CandidateOutcome struct {
	Symbol   string        `json:"symbol"`
	Stage    string        `json:"stage"`
	Filter   *FilterResult `json:"filter,omitempty"`
	Gate     *GateResult   `json:"gate,omitempty"`
	Decision *Decision     `json:"decision,omitempty"`
	Notified bool          `json:"notified"`
	Error    string        `json:"error,omitempty"`
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Scan        *models.ScanReport `json:"scan"`
	Outcomes    []CandidateOutcome `json:"outcomes"`
	Analyzed    int                `json:"analyzed"`
	Skipped     int                `json:"skipped"`
	Blocked     int                `json:"blocked"`
	Locked      int                `json:"locked"`
	Signals     int                `json:"signals"`
	Muted       int                `json:"muted"`
	Rejected    int                `json:"rejected"`
	Failed      int                `json:"failed"`
	Undelivered int                `json:"undelivered"`
}

// Pipeline runs scanner -> smart filter -> gatekeeper -> oracle -> decider.
type Pipeline struct {
	scanner   *Scanner
	filter    *SmartFilter
	gate      *Gatekeeper
	oracle    domsvc.Oracle
	decider   *Decider
	announcer *Announcer
	cache     cache.Service
	lockTTL   time.Duration
	now       func() time.Time
	metrics   domrepo.Metrics
	logger    *logger.Logger
}

func NewPipeline(
	scanner *Scanner,
	filter *SmartFilter,
	gate *Gatekeeper,
	oracle domsvc.Oracle,
	decider *Decider,
	announcer *Announcer,
	c cache.Service,
	lockTTL time.Duration,
	clock func() time.Time,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		scanner:   scanner,
		filter:    filter,
		gate:      gate,
		oracle:    oracle,
		decider:   decider,
		announcer: announcer,
		cache:     c,
		lockTTL:   lockTTL,
		now:       clock,
		metrics:   metrics,
		logger:    lgr.With(logger.String("component", "pipeline")),
	}
}

// RunCycle scans the market and processes every candidate sequentially. One
// candidate's failure never aborts the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{StartedAt: p.now(), Outcomes: []CandidateOutcome{}}
	scan, err := p.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	report.Scan = scan

	for _, c := range scan.Candidates {
		if ctx.Err() != nil {
			break
		}
		out := p.Process(ctx, c)
		report.Outcomes = append(report.Outcomes, out)
		report.count(out)
	}
	report.FinishedAt = p.now()
	p.metrics.RecordLatency("cycle", report.FinishedAt.Sub(report.StartedAt).Seconds())

	if err := p.cache.Set(ctx, lastCycleKey, report, 0); err != nil {
		p.logger.Warn("store cycle report failed", logger.Error(err))
	}
	p.logger.Info("cycle finished",
		logger.Int("candidates", len(scan.Candidates)),
		logger.Int("analyzed", report.Analyzed),
		logger.Int("signals", report.Signals),
		logger.Int("muted", report.Muted),
		logger.Int("skipped", report.Skipped),
		logger.Int("blocked", report.Blocked),
		logger.Int("failed", report.Failed))
	return report, ctx.Err()
}

func (r *CycleReport) count(out CandidateOutcome) {
	if out.Error != "" {
		r.Failed++
	}
	switch out.Stage {
	case StageLocked:
		r.Locked++
	case StageFilter:
		r.Skipped++
	case StageGate:
		r.Blocked++
	case StageDecision:
		r.Analyzed++
		if out.Decision == nil {
			return
		}
		switch out.Decision.Action {
		case ActionSignal:
			r.Signals++
			if out.Decision.Notify && !out.Notified {
				r.Undelivered++
			}
		case ActionMuted:
			r.Muted++
		case ActionRejected:
			r.Rejected++
		}
	}
}

// Process runs one candidate under its per-symbol analysis lock.
func (p *Pipeline) Process(ctx context.Context, c models.Candidate) CandidateOutcome {
	out := CandidateOutcome{Symbol: c.Symbol}
	key := cache.Key("lock", "analysis", c.Symbol)
	ok, err := p.cache.TryLock(ctx, key, p.lockTTL)
	if err != nil || !ok {
		out.Stage = StageLocked
		if err != nil {
			out.Error = err.Error()
		}
		p.logger.Debug("candidate locked elsewhere", logger.String("symbol", c.Symbol))
		return out
	}
	defer func() {
		if err := p.cache.Unlock(context.WithoutCancel(ctx), key); err != nil {
			p.logger.Warn("unlock failed", logger.String("key", key), logger.Error(err))
		}
	}()

	out.Stage = StageFilter
	fr, err := p.filter.Apply(ctx, c)
	if err != nil {
		return p.fail(out, err)
	}
	out.Filter = &fr
	if fr.Decision != DecisionAnalyze {
		return out
	}

	out.Stage = StageGate
	gr, err := p.gate.Check(ctx, c.Symbol, nil, c.Price)
	if err != nil {
		return p.fail(out, err)
	}
	out.Gate = &gr
	if !gr.AnyAllowed {
		return out
	}

	out.Stage = StageOracle
	res, err := p.oracle.Analyze(ctx, models.AnalysisContext{
		Symbol:            c.Symbol,
		Price:             c.Price,
		RVOL:              c.RVOL,
		Change24hPct:      c.Change24hPct,
		Change4hPct:       c.Change4hPct,
		Volume24hUSD:      c.Volume24hUSD,
		AllowedDirections: gr.Allowed,
		TriggerReason:     fr.Reason,
	})
	if err != nil {
		return p.fail(out, err)
	}

	out.Stage = StageDecision
	dec, err := p.decider.Decide(ctx, DecideInput{
		Candidate:     c,
		Result:        res,
		Allowed:       gr.Allowed,
		TriggerReason: fr.Reason,
	})
	out.Decision = dec
	if err != nil {
		return p.fail(out, err)
	}
	if dec.Notify && dec.Signal != nil && p.announcer != nil {
		// The signal stays recorded when delivery fails.
		if err := p.announcer.NotifySignal(ctx, dec.Signal); err != nil {
			out.Error = fmt.Sprintf("notify: %v", err)
			return out
		}
		out.Notified = true
	}
	return out
}

func (p *Pipeline) fail(out CandidateOutcome, err error) CandidateOutcome {
	out.Error = err.Error()
	kind := "pipeline_" + out.Stage
	if errors.Is(err, domrepo.ErrRateLimited) {
		kind = "rate_limited"
	}
	p.metrics.RecordError(kind)
	p.logger.Warn("candidate failed",
		logger.String("symbol", out.Symbol),
		logger.String("stage", out.Stage),
		logger.Error(err))
	return out
}

// LastReport returns the most recent cycle report.
func (p *Pipeline) LastReport(ctx context.Context) (*CycleReport, error) {
	var r CycleReport
	if err := p.cache.Get(ctx, lastCycleKey, &r); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("last cycle: %w", domrepo.ErrNotFound)
		}
		return nil, err
	}
	return &r, nil
}
