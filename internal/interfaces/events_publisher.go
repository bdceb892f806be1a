package interfaces

import "context"

// EventPublisher delivers a notification to a topic. Delivery is at-least-once.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}
