package queue

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Publisher writes payment events to a Kafka topic for downstream
// consumers (fulfilment, receipts). A nil Publisher is a no-op, so the
// broker stays optional.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, key, payload []byte) error {
	if p == nil {
		return nil
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
