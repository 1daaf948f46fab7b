package models

// Requests for the operator HTTP endpoints.

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required,symbol"`
}

type MuteRequest struct {
	Symbol  string `param:"symbol" validate:"required,symbol"`
	Minutes int    `json:"minutes" default:"240" validate:"gte=1,lte=10080"`
	Reason  string `json:"reason" default:"MANUAL" validate:"oneof=MANUAL WAIT_RESULT LOW_CONFIDENCE"`
}

type ListSignalsRequest struct {
	Symbol    string `query:"symbol" validate:"omitempty,symbol"`
	Status    string `query:"status" validate:"omitempty,oneof=Active HitSL HitTP1 HitTP2 HitTP3 Invalidated ClosedManual ExpiredDaily"`
	Direction string `query:"direction" validate:"omitempty,oneof=LONG SHORT"`
	Since     string `query:"since"`
	Limit     int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type SignalIDRequest struct {
	ID string `param:"id" validate:"required"`
}

type RecordSignalRequest struct {
	Symbol            string   `json:"symbol" validate:"required,symbol"`
	Direction         string   `json:"direction" validate:"required,oneof=LONG SHORT"`
	Entry             float64  `json:"entry" validate:"gt=0"`
	StopLoss          float64  `json:"stop_loss" validate:"gt=0"`
	TakeProfit1       float64  `json:"tp1" validate:"gt=0"`
	TakeProfit2       *float64 `json:"tp2,omitempty" validate:"omitempty,gt=0"`
	TakeProfit3       *float64 `json:"tp3,omitempty" validate:"omitempty,gt=0"`
	ConfluenceScore   string   `json:"confluence_score"`
	ConfidencePercent int      `json:"confidence_percent" validate:"gte=0,lte=100"`
	TriggerReason     string   `json:"trigger_reason" default:"MANUAL"`
}

type CloseSignalRequest struct {
	ID     string  `param:"id" validate:"required"`
	Status string  `json:"status" validate:"required,oneof=Invalidated ClosedManual ExpiredDaily"`
	Price  float64 `json:"price" validate:"gte=0"`
}
