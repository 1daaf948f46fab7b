// Package logger is a thin structured logging facade over zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, encoding and destination.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

// Logger writes leveled events carrying Fields.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger from cfg. File outputs are opened for append.
func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		out = f
	}
	return newLogger(out, level, cfg.Format, cfg.TimeFormat), nil
}

func newLogger(out io.Writer, level zerolog.Level, format, timeFormat string) *Logger {
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}
	zl := zerolog.New(out).Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()
	return &Logger{zl: zl}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child that adds fields to every event.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{zl: l.zl.With().Fields(flatten(fields)).Logger()}
}

// Zerolog exposes the underlying logger for libraries that take one.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug().Fields(flatten(fields)).Msg(msg) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zl.Info().Fields(flatten(fields)).Msg(msg) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zl.Warn().Fields(flatten(fields)).Msg(msg) }
func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error().Fields(flatten(fields)).Msg(msg) }

// Field is one key/value pair. zerolog picks the encoding from the value's
// type.
type Field struct {
	Key   string
	Value interface{}
}

func flatten(fields []Field) []interface{} {
	kv := make([]interface{}, 0, 2*len(fields))
	for _, f := range fields {
		kv = append(kv, f.Key, f.Value)
	}
	return kv
}

func String(key, v string) Field          { return Field{key, v} }
func Int(key string, v int) Field         { return Field{key, v} }
func Int64(key string, v int64) Field     { return Field{key, v} }
func Float64(key string, v float64) Field { return Field{key, v} }
func Bool(key string, v bool) Field       { return Field{key, v} }
func Time(key string, v time.Time) Field  { return Field{key, v} }
func Any(key string, v interface{}) Field { return Field{key, v} }
func Error(err error) Field               { return Field{zerolog.ErrorFieldName, err} }

// Duration logs whole milliseconds.
func Duration(key string, v time.Duration) Field {
	return Field{key, v.Milliseconds()}
}
