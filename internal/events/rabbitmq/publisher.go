// Package rabbitmq publishes ledger events to a durable topic exchange.
// The event topic becomes the routing key.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
)

// ErrNilChannel is returned when the publisher is built without a channel.
var ErrNilChannel = errors.New("rabbitmq: channel is nil")

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type identified interface {
	ID() string
}

type Publisher struct {
	ch       Channel
	exchange string
}

// Dial opens a connection and channel and declares exchange.
func Dial(url, exchange string) (*Publisher, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return p, conn, nil
}

// NewPublisher declares a durable topic exchange on ch.
func NewPublisher(ch Channel, exchange string) (*Publisher, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	if exchange == "" {
		exchange = "ledger.events"
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID(event),
		Timestamp:    time.Now().UTC(),
		Type:         topic,
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish to %s/%s: %w", p.exchange, topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

// messageID reuses the event's own id when it has one so redeliveries
// carry the same MessageId.
func messageID(event any) string {
	if e, ok := event.(identified); ok && e.ID() != "" {
		return e.ID()
	}
	return uuid.NewString()
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
