// Package events publishes domain events onto a Kafka topic.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON-encoded payloads keyed for partition affinity.
type KafkaPublisher struct {
	writer kafkaMessageWriter
	now    func() time.Time
}

// NewKafkaPublisher creates a synchronous writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaPublisher(bootstrap, topic string) (*KafkaPublisher, error) {
	brokers := SplitBrokers(bootstrap)
	if len(brokers) == 0 {
		return nil, errors.New("events: at least one kafka broker required")
	}
	if topic == "" {
		return nil, errors.New("events: kafka topic required")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		now: time.Now,
	}, nil
}

// Publish marshals payload and writes it under key.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  p.now(),
	}); err != nil {
		return fmt.Errorf("events: write %s: %w", key, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
