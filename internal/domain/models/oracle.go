package models

import (
	"errors"
	"fmt"
)

// ResultKind discriminates the oracle result union.
type ResultKind string

const (
	ResultSignal ResultKind = "SIGNAL"
	ResultWait   ResultKind = "WAIT"
)

// SignalProposal carries the trade levels proposed by the oracle.
type SignalProposal struct {
	Direction   Direction `json:"direction"`
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit1 float64   `json:"tp1"`
	TakeProfit2 *float64  `json:"tp2,omitempty"`
	TakeProfit3 *float64  `json:"tp3,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// WaitDetail explains why the oracle declined to propose a trade.
type WaitDetail struct {
	Reason string `json:"reason,omitempty"`
}

// OracleResult is {Signal} | {Wait}, discriminated by Kind.
type OracleResult struct {
	Kind             ResultKind      `json:"result_kind"`
	ConfluencePoints int             `json:"confluence_points"`
	MaxPoints        int             `json:"max_points"`
	Signal           *SignalProposal `json:"signal,omitempty"`
	Wait             *WaitDetail     `json:"wait,omitempty"`
}

// Validate checks the union is well formed.
func (r *OracleResult) Validate() error {
	if r == nil {
		return errors.New("oracle result is nil")
	}
	if r.MaxPoints <= 0 {
		return fmt.Errorf("max points must be positive, got %d", r.MaxPoints)
	}
	if r.ConfluencePoints < 0 || r.ConfluencePoints > r.MaxPoints {
		return fmt.Errorf("confluence points %d out of range 0..%d", r.ConfluencePoints, r.MaxPoints)
	}
	switch r.Kind {
	case ResultSignal:
		if r.Signal == nil || r.Wait != nil {
			return errors.New("SIGNAL result must carry only a signal proposal")
		}
		if r.Signal.Direction != DirectionLong && r.Signal.Direction != DirectionShort {
			return fmt.Errorf("invalid direction %q", r.Signal.Direction)
		}
	case ResultWait:
		if r.Signal != nil {
			return errors.New("WAIT result must not carry a signal proposal")
		}
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	return nil
}

// ConfluenceScore renders points as "13/15".
func (r *OracleResult) ConfluenceScore() string {
	return fmt.Sprintf("%d/%d", r.ConfluencePoints, r.MaxPoints)
}

// AnalysisContext is what the pipeline hands to the oracle.
type AnalysisContext struct {
	Symbol            string      `json:"symbol"`
	Price             float64     `json:"price"`
	RVOL              float64     `json:"rvol"`
	Change24hPct      float64     `json:"change_24h_pct"`
	Change4hPct       float64     `json:"change_4h_pct"`
	Volume24hUSD      float64     `json:"volume_24h_usd"`
	AllowedDirections []Direction `json:"allowed_directions"`
	TriggerReason     string      `json:"trigger_reason"`
}
