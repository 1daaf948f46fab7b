package repository

// Interval is a candle resolution understood by the market data gateway.
type Interval string

const (
	Interval1h Interval = "1h"
	Interval4h Interval = "4h"
	Interval1d Interval = "1d"
)

// IsValidInterval returns true if iv is a supported interval.
func IsValidInterval(iv Interval) bool {
	switch iv {
	case Interval1h, Interval4h, Interval1d:
		return true
	default:
		return false
	}
}

// NormalizeInterval converts a raw string to a valid interval (or 1h).
func NormalizeInterval(s string) Interval {
	iv := Interval(s)
	if !IsValidInterval(iv) {
		return Interval1h
	}
	return iv
}
