package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsAreEncoded(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, zerolog.InfoLevel, "json", "").With(String("env", "test"))

	l.Info("signal recorded",
		String("symbol", "SOLUSDT"),
		Int("score", 13),
		Float64("entry", 187.4),
		Bool("ok", true),
		Duration("took", 1500*time.Millisecond),
		Error(errors.New("boom")))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "signal recorded", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "test", line["env"])
	assert.Equal(t, "SOLUSDT", line["symbol"])
	assert.Equal(t, float64(13), line["score"])
	assert.Equal(t, 187.4, line["entry"])
	assert.Equal(t, true, line["ok"])
	assert.Equal(t, float64(1500), line["took"])
	assert.Equal(t, "boom", line["error"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, zerolog.WarnLevel, "json", "")
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}
