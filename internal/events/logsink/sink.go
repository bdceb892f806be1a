// Package logsink is an event publisher that writes events to the log.
// It backs local runs where no broker is configured.
package logsink

import (
	"context"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/transfer-engine/internal/interfaces"
)

type Sink struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Publish(_ context.Context, topic string, event any) error {
	s.logger.Info("event published", zap.String("topic", topic), zap.Any("event", event))
	return nil
}

var _ interfaces.EventPublisher = (*Sink)(nil)
