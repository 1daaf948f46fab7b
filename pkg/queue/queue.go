// Package queue runs background jobs from a Redis list with delayed retries
// and a dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Publisher enqueues a payload for the handler registered under kind.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload interface{}) error
}

// Handler processes one kind of job. A returned error schedules a retry.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Config tunes the workers. MaxRetries counts redeliveries after the first
// attempt; RetryBase is the delay before the first of them and grows by half
// on each one after.
type Config struct {
	Prefix     string
	Workers    int
	MaxRetries int
	RetryBase  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "tradescout:queue"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 10 * time.Second
	}
	return c
}

// retryDelay is the wait before redelivery number attempt (1-based).
func (c Config) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryBase
	b.RandomizationFactor = 0
	b.MaxInterval = 16 * c.RetryBase
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

type envelope struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Depth reports how many jobs sit in each list.
type Depth struct {
	Pending    int64 `json:"pending"`
	Retrying   int64 `json:"retrying"`
	DeadLetter int64 `json:"dead_letter"`
}

// Decode unmarshals a job payload into a new T.
func Decode[T any](payload json.RawMessage) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", *v, err)
	}
	return v, nil
}
