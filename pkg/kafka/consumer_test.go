package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerTopic("signals"),
		WithConsumerGroupID("test"),
		WithConsumerRetry(retries, time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewConsumerValidation(t *testing.T) {
	_, err := NewConsumer(WithConsumerTopic("signals"), WithConsumerGroupID("g"))
	assert.Error(t, err)
	_, err = NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerGroupID("g"))
	assert.Error(t, err)
	_, err = NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerTopic("signals"))
	assert.Error(t, err)

	c := newTestConsumer(t, 3)
	assert.Equal(t, "signals", c.cfg.Topic)
}

func TestHandleRetries(t *testing.T) {
	c := newTestConsumer(t, 3)
	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls < 3 {
			return errors.New("sink down")
		}
		return nil
	}, kafka.Message{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		return errors.New("sink down")
	}, kafka.Message{})
	assert.Error(t, err)
	assert.Equal(t, 4, calls, "first attempt plus three retries")
}

func TestHandlePermanentError(t *testing.T) {
	c := newTestConsumer(t, 3)
	calls := 0
	err := c.handle(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		return backoff.Permanent(errors.New("bad payload"))
	}, kafka.Message{})
	assert.EqualError(t, err, "bad payload")
	assert.Equal(t, 1, calls)
}
