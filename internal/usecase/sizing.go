package usecase

import (
	"fmt"
	"math"

	domrepo "TradeScout/internal/domain/repository"
)

// Sizing is the order scaffold derived from a proposal. It is never executed.
type Sizing struct {
	StopDistancePct float64 `json:"stop_distance_pct"`
	Leverage        float64 `json:"leverage"`
	PositionSize    float64 `json:"position_size"`
	RewardRisk      float64 `json:"reward_risk"`
}

// Size computes leverage and position size. riskPct is a fraction of the
// portfolio (0.01 = 1%).
func Size(entry, stopLoss, tp1, riskPct, maxLeverage, portfolio float64) (Sizing, error) {
	if entry <= 0 {
		return Sizing{}, fmt.Errorf("%w: entry %.8f", domrepo.ErrDegenerateStop, entry)
	}
	stopDist := math.Abs(entry-stopLoss) / entry
	if stopDist <= 0 || math.IsNaN(stopDist) {
		return Sizing{}, fmt.Errorf("%w: entry equals stop loss", domrepo.ErrDegenerateStop)
	}
	lev := math.Min(maxLeverage, riskPct/stopDist)
	return Sizing{
		StopDistancePct: stopDist,
		Leverage:        lev,
		PositionSize:    portfolio * riskPct * lev,
		RewardRisk:      math.Abs(tp1-entry) / math.Abs(entry-stopLoss),
	}, nil
}

// ConfidencePercent rounds points/maxPoints to a whole percent.
func ConfidencePercent(points, maxPoints int) int {
	if maxPoints <= 0 {
		return 0
	}
	return int(math.Round(float64(points) / float64(maxPoints) * 100))
}

// ConfidenceLabel buckets a confidence percent for display.
func ConfidenceLabel(pct int) string {
	switch {
	case pct >= 90:
		return "VERY_HIGH"
	case pct >= 80:
		return "HIGH"
	case pct >= 70:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
