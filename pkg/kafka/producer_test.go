package kafka

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Topic: "signals"}, nil)
	assert.Error(t, err)

	_, err = NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}, Topic: "signals"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "signals", p.Topic())
	assert.Equal(t, 3, p.cfg.MaxAttempts)
	assert.Equal(t, kafka.Gzip, p.writer.Compression)
	require.NoError(t, p.Close())
}

func TestMarshalValue(t *testing.T) {
	v, err := marshalValue("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)

	v, err = marshalValue(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v))

	_, err = marshalValue(make(chan int))
	assert.Error(t, err)
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Zstd, compressionCodec("zstd"))
	assert.Equal(t, kafka.Snappy, compressionCodec("snappy"))
	assert.Equal(t, kafka.Gzip, compressionCodec("unknown"))
}

func TestStatsRegisteredOncePerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := statsFor(reg)
	b := statsFor(reg)
	assert.Same(t, a, b)
	assert.Nil(t, statsFor(nil))
}
