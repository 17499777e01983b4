package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams trade events to a Kafka topic keyed by market, so
// one market's trades stay ordered within a partition
type KafkaPublisher struct {
	writer messageWriter
	policy func() backoff.BackOff
}

func defaultPolicy() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		policy: defaultPolicy,
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) PublishTrade(ctx context.Context, ev TradeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.MarketID),
		Value: value,
		Time:  ev.Timestamp,
	}

	return backoff.Retry(func() error {
		return p.writer.WriteMessages(ctx, msg)
	}, backoff.WithContext(p.policy(), ctx))
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
