package repository

import (
	"context"
	"fmt"

	"TradeScout/internal/domain/models"
	"TradeScout/internal/domain/repository"
	pkgch "TradeScout/pkg/clickhouse"
	pkgkafka "TradeScout/pkg/kafka"
)

// KafkaEventPublisher writes signal events keyed by symbol.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
}

// NewKafkaEventPublisher creates a Kafka publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) PublishSignalEvent(ctx context.Context, ev models.SignalEvent) error {
	return p.producer.Publish(ctx, []byte(ev.Symbol), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// SignalEventsSchema creates the ClickHouse events table in database db.
func SignalEventsSchema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signal_events (
			at        DateTime64(3, 'UTC'),
			type      LowCardinality(String),
			signal_id String,
			symbol    LowCardinality(String),
			direction LowCardinality(String),
			from_status LowCardinality(String),
			to_status LowCardinality(String),
			price     Float64
		) ENGINE = MergeTree
		ORDER BY (symbol, at)`, db),
	}
}

// ClickHouseEventSink appends signal events to <db>.signal_events.
type ClickHouseEventSink struct {
	client *pkgch.Client
	insert string
}

// NewClickHouseEventSink creates the table when missing.
func NewClickHouseEventSink(ctx context.Context, client *pkgch.Client) (*ClickHouseEventSink, error) {
	if err := client.InitSchema(ctx, SignalEventsSchema(client.Database())); err != nil {
		return nil, err
	}
	return &ClickHouseEventSink{
		client: client,
		insert: fmt.Sprintf(`INSERT INTO %s.signal_events (at, type, signal_id, symbol, direction, from_status, to_status, price)`, client.Database()),
	}, nil
}

func (s *ClickHouseEventSink) PublishSignalEvent(ctx context.Context, ev models.SignalEvent) error {
	return s.client.InsertBatch(ctx, s.insert, [][]any{eventRow(ev)})
}

func (s *ClickHouseEventSink) Close() error {
	return s.client.Close()
}

func eventRow(ev models.SignalEvent) []any {
	return []any{
		ev.At.UTC(),
		ev.Type,
		ev.SignalID,
		ev.Symbol,
		string(ev.Direction),
		string(ev.From),
		string(ev.To),
		ev.Price,
	}
}

// NoopEventPublisher drops events when no backend is configured.
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishSignalEvent(context.Context, models.SignalEvent) error { return nil }
func (NoopEventPublisher) Close() error                                              { return nil }
