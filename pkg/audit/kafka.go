package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes audit events to a Kafka (or Redpanda) topic so they
// can feed SIEM pipelines. Delivery is fire-and-forget: audit must never
// slow the verification flow down.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.SessionID),
		Value: value,
	}
	s.client.Produce(ctx, record, nil)
	return nil
}

// Flush blocks until buffered records are delivered. Used by tests and
// shutdown.
func (s *KafkaSink) Flush(ctx context.Context) error {
	return s.client.Flush(ctx)
}

func (s *KafkaSink) Close() {
	s.client.Close()
}
