package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())
}

func TestParseTimeDateOnly(t *testing.T) {
	got, ok := ParseTime("2024-10-10")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestParseTimeRejects(t *testing.T) {
	for _, in := range []string{"", "garbage", "-5", "10/10/2024"} {
		_, ok := ParseTime(in)
		assert.False(t, ok, in)
	}
	got, ok := ParseTime("2024-10-10 08:30:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 10, 10, 8, 30, 0, 0, time.UTC), got)
}

func TestStartOfUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 02:00 local on the 11th is 17:00 UTC on the 10th.
	in := time.Date(2024, 10, 11, 2, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC), StartOfUTCDay(in))
	assert.True(t, SameUTCDay(in, time.Date(2024, 10, 10, 23, 59, 59, 0, time.UTC)))
	assert.False(t, SameUTCDay(in, time.Date(2024, 10, 11, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeSymbolAndPrice(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("  btcusdt "))
	assert.Equal(t, "64000.50", FormatPrice(64000.5))
	assert.Equal(t, "1.2500", FormatPrice(1.25))
	assert.Equal(t, "0.00001200", FormatPrice(0.000012))
}
