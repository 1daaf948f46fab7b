package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"TradeScout/internal/domain/models"
	domrepo "TradeScout/internal/domain/repository"
	"TradeScout/pkg/logger"

	"gonum.org/v1/gonum/stat"
)

const (
	rvolCandles    = 25
	change4hWindow = 2
)

var leveragedSuffixes = []string{"UP", "DOWN", "BULL", "BEAR"}

// ScannerConfig holds the funnel thresholds.
type ScannerConfig struct {
	QuoteAsset      string
	Blacklist       []string
	MinVolumeUSD    float64
	MinChange24hPct float64
	MinChange4hPct  float64
	MinRVOL         float64
	MaxCandidates   int
	Limit           int
	PacingDelay     time.Duration
}

// Scanner runs the liquidity, momentum and activity funnel over the market.
type Scanner struct {
	market    domrepo.MarketData
	cfg       ScannerConfig
	blacklist map[string]struct{}
	metrics   domrepo.Metrics
	logger    *logger.Logger
}

func NewScanner(market domrepo.MarketData, cfg ScannerConfig, metrics domrepo.Metrics, lgr *logger.Logger) *Scanner {
	bl := make(map[string]struct{}, len(cfg.Blacklist))
	for _, b := range cfg.Blacklist {
		bl[strings.ToUpper(b)] = struct{}{}
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Scanner{
		market:    market,
		cfg:       cfg,
		blacklist: bl,
		metrics:   metrics,
		logger:    lgr.With(logger.String("component", "scanner")),
	}
}

// Scan returns ranked candidates. Only a failed ticker snapshot fails the scan;
// per-symbol errors drop that symbol.
func (s *Scanner) Scan(ctx context.Context) (*models.ScanReport, error) {
	start := time.Now()
	tickers, err := s.market.GetTickers(ctx)
	if err != nil {
		s.metrics.RecordError("scan_tickers")
		return nil, fmt.Errorf("scan: %w", err)
	}
	report := &models.ScanReport{Tickers: len(tickers)}

	eligible := make([]models.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if s.Eligible(t.Symbol) {
			eligible = append(eligible, t)
		}
	}
	report.Eligible = len(eligible)

	liquid := make([]models.Ticker, 0)
	for _, t := range eligible {
		if t.QuoteVolume24h >= s.cfg.MinVolumeUSD && math.Abs(t.PriceChangePct24h) >= s.cfg.MinChange24hPct {
			liquid = append(liquid, t)
		}
	}
	report.Liquid = len(liquid)

	sort.SliceStable(liquid, func(i, j int) bool { return liquid[i].QuoteVolume24h > liquid[j].QuoteVolume24h })
	if s.cfg.MaxCandidates > 0 && len(liquid) > s.cfg.MaxCandidates {
		liquid = liquid[:s.cfg.MaxCandidates]
	}

	calls := 0
	pace := func() error {
		calls++
		if calls == 1 {
			return nil
		}
		return sleepCtx(ctx, s.cfg.PacingDelay)
	}

	momentum := make([]models.Candidate, 0, len(liquid))
	for _, t := range liquid {
		if err := pace(); err != nil {
			return nil, err
		}
		chg, err := s.change4h(ctx, t.Symbol)
		if err != nil {
			report.Failed++
			s.logger.Warn("drop symbol: 4h candles unavailable", logger.String("symbol", t.Symbol), logger.Error(err))
			continue
		}
		if math.Abs(chg) < s.cfg.MinChange4hPct {
			continue
		}
		momentum = append(momentum, models.Candidate{
			Symbol:       t.Symbol,
			Price:        t.LastPrice,
			Volume24hUSD: t.QuoteVolume24h,
			Change24hPct: t.PriceChangePct24h,
			Change4hPct:  chg,
		})
	}
	report.Momentum = len(momentum)

	active := make([]models.Candidate, 0, len(momentum))
	for _, c := range momentum {
		if err := pace(); err != nil {
			return nil, err
		}
		candles, err := s.market.GetCandles(ctx, c.Symbol, domrepo.Interval1h, rvolCandles)
		if err != nil {
			report.Failed++
			s.logger.Warn("drop symbol: 1h candles unavailable", logger.String("symbol", c.Symbol), logger.Error(err))
			continue
		}
		rvol, ok := ComputeRVOL(candles)
		if !ok {
			s.logger.Debug("drop symbol: rvol undefined", logger.String("symbol", c.Symbol))
			continue
		}
		if rvol < s.cfg.MinRVOL {
			continue
		}
		c.RVOL = rvol
		active = append(active, c)
	}
	report.Active = len(active)

	sort.SliceStable(active, func(i, j int) bool { return active[i].RVOL > active[j].RVOL })
	if s.cfg.Limit > 0 && len(active) > s.cfg.Limit {
		active = active[:s.cfg.Limit]
	}
	report.Candidates = active
	report.Returned = len(active)
	report.Duration = time.Since(start)

	s.recordStages(report)
	s.logger.Info("scan finished",
		logger.Int("tickers", report.Tickers),
		logger.Int("liquid", report.Liquid),
		logger.Int("momentum", report.Momentum),
		logger.Int("active", report.Active),
		logger.Int("returned", report.Returned),
		logger.Int("failed", report.Failed),
		logger.Duration("took", report.Duration))
	return report, nil
}

// Eligible applies the quote-asset filter and the blacklist.
func (s *Scanner) Eligible(symbol string) bool {
	if !strings.HasSuffix(symbol, s.cfg.QuoteAsset) {
		return false
	}
	base := strings.TrimSuffix(symbol, s.cfg.QuoteAsset)
	if base == "" {
		return false
	}
	if _, ok := s.blacklist[base]; ok {
		return false
	}
	for _, suf := range leveragedSuffixes {
		// BTCUP, ETHBEAR; short names like JUP are real assets.
		if strings.HasSuffix(base, suf) && len(base)-len(suf) >= 3 {
			return false
		}
	}
	return true
}

func (s *Scanner) change4h(ctx context.Context, symbol string) (float64, error) {
	candles, err := s.market.GetCandles(ctx, symbol, domrepo.Interval4h, change4hWindow)
	if err != nil {
		return 0, err
	}
	if len(candles) < change4hWindow {
		return 0, fmt.Errorf("%w: %d candles", domrepo.ErrNotFound, len(candles))
	}
	prev := candles[len(candles)-2].Close
	last := candles[len(candles)-1].Close
	if prev <= 0 {
		return 0, fmt.Errorf("%w: non-positive close", domrepo.ErrNotFound)
	}
	return (last - prev) / prev * 100, nil
}

func (s *Scanner) recordStages(r *models.ScanReport) {
	s.metrics.RecordScanStage("tickers", r.Tickers)
	s.metrics.RecordScanStage("eligible", r.Eligible)
	s.metrics.RecordScanStage("liquid", r.Liquid)
	s.metrics.RecordScanStage("momentum", r.Momentum)
	s.metrics.RecordScanStage("active", r.Active)
	s.metrics.RecordScanStage("returned", r.Returned)
	s.metrics.RecordLatency("scan", r.Duration.Seconds())
}

// ComputeRVOL divides the current (last) candle's volume by the mean volume of
// up to 24 preceding candles. ok is false when fewer than two candles are
// given or the mean is zero.
func ComputeRVOL(candles []models.Candle) (rvol float64, ok bool) {
	n := len(candles)
	if n < 2 {
		return 0, false
	}
	from := n - rvolCandles
	if from < 0 {
		from = 0
	}
	history := make([]float64, 0, n-1-from)
	for _, c := range candles[from : n-1] {
		history = append(history, c.Volume)
	}
	mean := stat.Mean(history, nil)
	if mean == 0 || math.IsNaN(mean) {
		return 0, false
	}
	return candles[n-1].Volume / mean, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
