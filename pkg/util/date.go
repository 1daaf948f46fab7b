package util

import (
	"strconv"
	"time"
)

var timeLayouts = []string{time.RFC3339Nano, time.DateTime, time.DateOnly}

// ParseTime accepts RFC 3339, "2006-01-02 15:04:05", a bare date or unix
// seconds. Layouts without a zone are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// StartOfUTCDay truncates t to midnight of its UTC calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return StartOfUTCDay(a).Equal(StartOfUTCDay(b))
}
