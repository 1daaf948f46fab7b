package util

import (
	"strconv"
	"strings"
)

// NormalizeSymbol upper-cases and trims an instrument symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// FormatPrice renders a price with precision suited to its magnitude.
func FormatPrice(p float64) string {
	switch {
	case p >= 1000:
		return strconv.FormatFloat(p, 'f', 2, 64)
	case p >= 1:
		return strconv.FormatFloat(p, 'f', 4, 64)
	default:
		return strconv.FormatFloat(p, 'f', 8, 64)
	}
}
