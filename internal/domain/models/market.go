package models

import "time"

// Ticker is a 24h snapshot of one instrument.
type Ticker struct {
	Symbol            string  `json:"symbol"`
	LastPrice         float64 `json:"last_price"`
	QuoteVolume24h    float64 `json:"quote_volume_24h"`
	PriceChangePct24h float64 `json:"price_change_pct_24h"`
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Candidate is a symbol that survived the scanner funnel.
type Candidate struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Volume24hUSD float64 `json:"volume_24h_usd"`
	Change24hPct float64 `json:"change_24h_pct"`
	Change4hPct  float64 `json:"change_4h_pct"`
	RVOL         float64 `json:"rvol"`
}

// ScanReport counts symbols left after each funnel stage.
type ScanReport struct {
	Tickers    int           `json:"tickers"`
	Eligible   int           `json:"eligible"`
	Liquid     int           `json:"liquid"`
	Momentum   int           `json:"momentum"`
	Active     int           `json:"active"`
	Returned   int           `json:"returned"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Candidates []Candidate   `json:"candidates"`
}
