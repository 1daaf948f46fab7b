package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	FromBeginning bool
	MinBytes      int
	MaxBytes      int
	MaxWait       time.Duration
	RetryMax      int
	RetryInitial  time.Duration
}

// WithConsumerBrokers sets Kafka brokers for the consumer.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerTopic sets the topic to read.
func WithConsumerTopic(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Topic = topic
	}
}

// WithConsumerGroupID sets the consumer group. Offsets are committed per group.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerFromBeginning makes a group without committed offsets start at
// the oldest message instead of the newest.
func WithConsumerFromBeginning(on bool) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.FromBeginning = on
	}
}

// WithConsumerRetry sets how often a failing handler is retried and the first
// backoff interval.
func WithConsumerRetry(max int, initial time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.RetryInitial = initial
	}
}

// Handler processes one message. Returning backoff.Permanent skips retries.
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer reads one topic as a member of a consumer group and commits each
// message after its handler succeeds.
type Consumer struct {
	cfg    *ConsumerConfig
	reader *kafka.Reader
}

// NewConsumer creates a consumer. The reader connects lazily on Run.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		MinBytes:     1,
		MaxBytes:     10e6,
		MaxWait:      time.Second,
		RetryMax:     3,
		RetryInitial: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka: group id is required")
	}

	start := kafka.LastOffset
	if cfg.FromBeginning {
		start = kafka.FirstOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		StartOffset: start,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
	})
	return &Consumer{cfg: cfg, reader: reader}, nil
}

// Run fetches messages until ctx is done. A message whose handler still fails
// after the retries stops the consumer without being committed.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch %s: %w", c.cfg.Topic, err)
		}
		if err := c.handle(ctx, h, msg); err != nil {
			return fmt.Errorf("kafka handle %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			return fmt.Errorf("kafka commit %s: %w", c.cfg.Topic, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, msg kafka.Message) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitial
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if c.cfg.RetryMax >= 0 {
		b = backoff.WithMaxRetries(eb, uint64(c.cfg.RetryMax))
	}
	return backoff.Retry(func() error { return h(ctx, msg) }, backoff.WithContext(b, ctx))
}

// Close leaves the group and closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
