package repository

import (
	"context"
	"errors"
	"time"

	"TradeScout/internal/domain/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrDailyLimit          = errors.New("a signal for this symbol and direction was already recorded today")
	ErrMuteInPast          = errors.New("mute deadline must be in the future")
	ErrImmutableField      = errors.New("entry, stop loss and direction are immutable")
	ErrInvalidTransition   = errors.New("invalid signal status transition")
	ErrDegenerateStop      = errors.New("stop distance must be positive")
	ErrInvalidOracleResult = errors.New("invalid oracle result")
	ErrInvalidSignal       = errors.New("invalid signal levels")
	ErrBusy                = errors.New("resource is locked by another operation")
)

// MarketData is the read-only market data gateway.
type MarketData interface {
	GetTickers(ctx context.Context) ([]models.Ticker, error)
	GetCandles(ctx context.Context, symbol string, interval Interval, limit int) ([]models.Candle, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// PriceSource resolves current prices for a batch of symbols. Missing symbols are omitted.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// AnalysisMemory stores one AnalysisRecord per symbol.
type AnalysisMemory interface {
	Get(ctx context.Context, symbol string) (*models.AnalysisRecord, error)
	List(ctx context.Context) ([]models.AnalysisRecord, error)
	// Update atomically applies fn to the record (nil when absent) and stores the result.
	Update(ctx context.Context, symbol string, fn func(rec *models.AnalysisRecord) (*models.AnalysisRecord, error)) (*models.AnalysisRecord, error)
}

// ObservationList is the bounded ring of skipped symbols.
type ObservationList interface {
	Touch(ctx context.Context, symbol, reason string, at time.Time) (*models.ObservationEntry, error)
	List(ctx context.Context) ([]models.ObservationEntry, error)
}

// SignalStore is the append-mostly signal log.
type SignalStore interface {
	Create(ctx context.Context, s *models.Signal) error
	Get(ctx context.Context, id string) (*models.Signal, error)
	// List returns matching signals, newest first.
	List(ctx context.Context, f models.SignalFilter) ([]models.Signal, error)
	// Update atomically applies fn to the stored signal. Immutable fields may not change.
	Update(ctx context.Context, id string, fn func(s *models.Signal) error) (*models.Signal, error)
	Stats(ctx context.Context) (models.SignalStats, error)
}

// Stores bundles the three logical documents of the engine.
type Stores interface {
	Analysis() AnalysisMemory
	Observations() ObservationList
	Signals() SignalStore
	Close() error
}

// Locker provides short-lived named locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// EventPublisher forwards signal lifecycle events.
type EventPublisher interface {
	PublishSignalEvent(ctx context.Context, ev models.SignalEvent) error
	Close() error
}

// Notifier delivers formatted messages to the notification channel.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

type Metrics interface {
	RecordScanStage(stage string, count int)
	RecordFilterDecision(decision, reason string)
	RecordGateResult(direction, result string)
	RecordDecision(action string)
	RecordTransition(from, to string)
	RecordSignalStats(st models.SignalStats)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
