package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
)

// keyed events choose their own partition key.
type keyed interface {
	Key() string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

// NewPublisher writes to any topic on brokers. Messages are hashed by key,
// so every event of one sender account lands on the same partition.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	msg, err := newMessage(topic, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func newMessage(topic string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if k, ok := event.(keyed); ok {
		msg.Key = []byte(k.Key())
	}
	return msg, nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
