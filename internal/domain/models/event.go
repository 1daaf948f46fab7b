package models

import "time"

// SignalEvent is emitted on signal creation and on every status change.
type SignalEvent struct {
	Type      string       `json:"type"`
	SignalID  string       `json:"signal_id"`
	Symbol    string       `json:"symbol"`
	Direction Direction    `json:"direction"`
	From      SignalStatus `json:"from,omitempty"`
	To        SignalStatus `json:"to"`
	Price     float64      `json:"price"`
	At        time.Time    `json:"at"`
}

// NewCreatedEvent builds the creation event for s.
func NewCreatedEvent(s *Signal) SignalEvent {
	return SignalEvent{
		Type:      EventSignalCreated,
		SignalID:  s.ID,
		Symbol:    s.Symbol,
		Direction: s.Direction,
		To:        s.Status,
		Price:     s.EntryPrice,
		At:        s.CreatedAt,
	}
}

// NewStatusEvent builds the transition event for s.
func NewStatusEvent(s *Signal, from SignalStatus, price float64, at time.Time) SignalEvent {
	return SignalEvent{
		Type:      EventStatusChange,
		SignalID:  s.ID,
		Symbol:    s.Symbol,
		Direction: s.Direction,
		From:      from,
		To:        s.Status,
		Price:     price,
		At:        at,
	}
}

// NotificationKind distinguishes new signals from lifecycle updates.
type NotificationKind string

const (
	NotifySignal       NotificationKind = "SIGNAL"
	NotifyStatusChange NotificationKind = "STATUS_CHANGE"
)

// Notification is the payload handed to the notification channel.
type Notification struct {
	Kind              NotificationKind `json:"kind"`
	Symbol            string           `json:"symbol"`
	Direction         Direction        `json:"direction"`
	Entry             float64          `json:"entry"`
	StopLoss          float64          `json:"stop_loss"`
	TakeProfit1       float64          `json:"tp1"`
	TakeProfit2       *float64         `json:"tp2,omitempty"`
	TakeProfit3       *float64         `json:"tp3,omitempty"`
	Leverage          float64          `json:"leverage"`
	ConfidencePercent int              `json:"confidence_percent"`
	ConfluenceScore   string           `json:"confluence_score"`
	Status            SignalStatus     `json:"status,omitempty"`
	Price             float64          `json:"price,omitempty"`
	SignalID          string           `json:"signal_id"`
	Text              string           `json:"text"`
}

// NewSignalNotification builds the notification for a freshly emitted signal.
func NewSignalNotification(s *Signal) *Notification {
	return &Notification{
		Kind:              NotifySignal,
		Symbol:            s.Symbol,
		Direction:         s.Direction,
		Entry:             s.EntryPrice,
		StopLoss:          s.StopLoss,
		TakeProfit1:       s.TakeProfit1,
		TakeProfit2:       s.TakeProfit2,
		TakeProfit3:       s.TakeProfit3,
		Leverage:          s.Leverage,
		ConfidencePercent: s.ConfidencePercent,
		ConfluenceScore:   s.ConfluenceScore,
		Status:            s.Status,
		SignalID:          s.ID,
	}
}
