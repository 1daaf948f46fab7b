package models

import (
	"fmt"
	"strings"
	"time"
)

// Direction of a trade signal.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Directions lists both directions in evaluation order.
var Directions = []Direction{DirectionLong, DirectionShort}

// ParseDirection accepts LONG/SHORT case-insensitively.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionLong:
		return DirectionLong, nil
	case DirectionShort:
		return DirectionShort, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	StatusActive       SignalStatus = "Active"
	StatusHitSL        SignalStatus = "HitSL"
	StatusHitTP1       SignalStatus = "HitTP1"
	StatusHitTP2       SignalStatus = "HitTP2"
	StatusHitTP3       SignalStatus = "HitTP3"
	StatusInvalidated  SignalStatus = "Invalidated"
	StatusClosedManual SignalStatus = "ClosedManual"
	StatusExpiredDaily SignalStatus = "ExpiredDaily"
)

var statuses = []SignalStatus{
	StatusActive, StatusHitSL, StatusHitTP1, StatusHitTP2, StatusHitTP3,
	StatusInvalidated, StatusClosedManual, StatusExpiredDaily,
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (SignalStatus, error) {
	name := strings.TrimSpace(s)
	for _, st := range statuses {
		if strings.EqualFold(string(st), name) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown signal status %q", s)
}

// IsWin reports a take-profit outcome.
func (s SignalStatus) IsWin() bool { return strings.HasPrefix(string(s), "HitTP") }

// IsManualTerminal reports statuses reachable only through an operator action.
func (s SignalStatus) IsManualTerminal() bool {
	return s == StatusInvalidated || s == StatusClosedManual || s == StatusExpiredDaily
}

// History event names.
const (
	EventSignalCreated = "SIGNAL_CREATED"
	EventStatusChange  = "STATUS_CHANGE"
)

// StatusChangeEvent renders the history event for a transition.
func StatusChangeEvent(from, to SignalStatus) string {
	return fmt.Sprintf("%s: %s -> %s", EventStatusChange, from, to)
}

// HistoryEvent is one append-only entry of a signal's history.
type HistoryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Price     float64   `json:"price"`
}

// Signal is an emitted trade idea tracked until it resolves.
type Signal struct {
	ID                string         `json:"id"`
	Symbol            string         `json:"symbol"`
	Direction         Direction      `json:"direction"`
	CreatedAt         time.Time      `json:"created_at"`
	Status            SignalStatus   `json:"status"`
	EntryPrice        float64        `json:"entry_price"`
	StopLoss          float64        `json:"stop_loss"`
	TakeProfit1       float64        `json:"take_profit_1"`
	TakeProfit2       *float64       `json:"take_profit_2,omitempty"`
	TakeProfit3       *float64       `json:"take_profit_3,omitempty"`
	ConfluenceScore   string         `json:"confluence_score"`
	ConfidencePercent int            `json:"confidence_percent"`
	ConfidenceLabel   string         `json:"confidence_label"`
	TriggerReason     string         `json:"trigger_reason"`
	Leverage          float64        `json:"leverage,omitempty"`
	PositionSize      float64        `json:"position_size,omitempty"`
	LastCheckedAt     *time.Time     `json:"last_checked_at,omitempty"`
	History           []HistoryEvent `json:"history"`
}

// Clone returns a deep copy.
func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	out := *s
	if s.TakeProfit2 != nil {
		v := *s.TakeProfit2
		out.TakeProfit2 = &v
	}
	if s.TakeProfit3 != nil {
		v := *s.TakeProfit3
		out.TakeProfit3 = &v
	}
	if s.LastCheckedAt != nil {
		t := *s.LastCheckedAt
		out.LastCheckedAt = &t
	}
	out.History = append([]HistoryEvent(nil), s.History...)
	return &out
}

// StopHit reports whether price crossed the stop for the signal's direction.
func (s *Signal) StopHit(price float64) bool {
	if s.Direction == DirectionShort {
		return price >= s.StopLoss
	}
	return price <= s.StopLoss
}

// TargetHit reports whether price reached target for the signal's direction.
func (s *Signal) TargetHit(target, price float64) bool {
	if s.Direction == DirectionShort {
		return price <= target
	}
	return price >= target
}

// UnrealizedPnL is the signed return of price relative to entry.
func (s *Signal) UnrealizedPnL(price float64) float64 {
	if s.EntryPrice == 0 {
		return 0
	}
	pnl := (price - s.EntryPrice) / s.EntryPrice
	if s.Direction == DirectionShort {
		return -pnl
	}
	return pnl
}

// Transition moves an Active signal to status and appends the history event.
func (s *Signal) Transition(to SignalStatus, price float64, at time.Time) error {
	if s.Status != StatusActive {
		return fmt.Errorf("signal %s is %s, not %s", s.ID, s.Status, StatusActive)
	}
	from := s.Status
	s.Status = to
	s.LastCheckedAt = &at
	s.History = append(s.History, HistoryEvent{Timestamp: at, Event: StatusChangeEvent(from, to), Price: price})
	return nil
}

// SameImmutable reports whether entry, stop and direction are unchanged between a and b.
func SameImmutable(a, b *Signal) bool {
	return a.ID == b.ID &&
		a.Symbol == b.Symbol &&
		a.Direction == b.Direction &&
		a.EntryPrice == b.EntryPrice &&
		a.StopLoss == b.StopLoss &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// SignalFilter narrows a signal listing. Zero fields match everything.
type SignalFilter struct {
	Symbol    string
	Direction Direction
	Status    SignalStatus
	Since     *time.Time
	Before    *time.Time
	Limit     int
}

// Match reports whether s satisfies the filter (Limit excluded).
func (f SignalFilter) Match(s *Signal) bool {
	if f.Symbol != "" && s.Symbol != f.Symbol {
		return false
	}
	if f.Direction != "" && s.Direction != f.Direction {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Since != nil && s.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Before != nil && !s.CreatedAt.Before(*f.Before) {
		return false
	}
	return true
}

// SignalStats is derived from the signal list and never stored.
type SignalStats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	Active  int     `json:"active"`
	WinRate float64 `json:"win_rate"`
}

// ComputeStats derives aggregate statistics from signals.
func ComputeStats(signals []Signal) SignalStats {
	var st SignalStats
	for i := range signals {
		st.Total++
		switch {
		case signals[i].Status.IsWin():
			st.Wins++
		case signals[i].Status == StatusHitSL:
			st.Losses++
		case signals[i].Status == StatusActive:
			st.Active++
		}
	}
	st.WinRate = WinRate(st.Wins, st.Losses)
	return st
}

// WinRate is wins over resolved (wins+losses) trades, in percent.
func WinRate(wins, losses int) float64 {
	if wins+losses == 0 {
		return 0
	}
	return float64(wins) / float64(wins+losses) * 100
}
