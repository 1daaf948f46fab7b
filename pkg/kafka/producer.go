package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig describes the writer. Zero values take the defaults set in
// NewProducer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	RequiredAcks int // -1 waits for all in-sync replicas
	Compression  string
	MaxAttempts  int
	BatchSize    int
	Linger       time.Duration
	WriteTimeout time.Duration
	Async        bool
}

// Producer writes keyed JSON messages to one topic.
type Producer struct {
	writer *kafka.Writer
	cfg    ProducerConfig
	stats  *publishStats
}

// NewProducer validates cfg and prepares the writer. Connections are made on
// first publish. A nil registerer disables producer metrics.
func NewProducer(cfg ProducerConfig, reg prometheus.Registerer) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.Compression == "" {
		cfg.Compression = "gzip"
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	// Keys are symbols: hashing keeps each symbol's events ordered on one
	// partition.
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  compressionCodec(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.Linger,
		WriteTimeout: cfg.WriteTimeout,
		Async:        cfg.Async,
	}
	return &Producer{writer: w, cfg: cfg, stats: statsFor(reg)}, nil
}

func (p *Producer) Topic() string { return p.cfg.Topic }

// Publish encodes value and writes it under key.
func (p *Producer) Publish(ctx context.Context, key []byte, value interface{}) error {
	payload, err := marshalValue(value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload, Time: start})
	p.stats.record(p.cfg.Topic, len(payload), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", p.cfg.Topic, err)
	}
	return nil
}

// Close flushes buffered messages.
func (p *Producer) Close() error { return p.writer.Close() }

func marshalValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("kafka marshal: %w", err)
	}
	return b, nil
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	}
	return kafka.Gzip
}

type publishStats struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	statsMu  sync.Mutex
	statsReg = map[prometheus.Registerer]*publishStats{}
)

// statsFor registers the collectors at most once per registerer.
func statsFor(reg prometheus.Registerer) *publishStats {
	if reg == nil {
		return nil
	}
	statsMu.Lock()
	defer statsMu.Unlock()
	if s, ok := statsReg[reg]; ok {
		return s
	}
	f := promauto.With(reg)
	s := &publishStats{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradescout_kafka_published_total",
			Help: "Messages written to Kafka by result.",
		}, []string{"topic", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradescout_kafka_published_bytes_total",
			Help: "Payload bytes written to Kafka.",
		}, []string{"topic"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradescout_kafka_publish_seconds",
			Help:    "Time spent in WriteMessages.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
	}
	statsReg[reg] = s
	return s
}

func (s *publishStats) record(topic string, n int, took time.Duration, err error) {
	if s == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.messages.WithLabelValues(topic, result).Inc()
	s.bytes.WithLabelValues(topic).Add(float64(n))
	s.latency.WithLabelValues(topic).Observe(took.Seconds())
}
