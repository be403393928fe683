package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
)

// Publisher is the broker client used by AMQPSink.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// AMQPSink forwards events to a broker exchange using the event type as the
// routing key.
type AMQPSink struct {
	publisher Publisher
}

// NewAMQPSink creates a sink backed by the given publisher.
func NewAMQPSink(publisher Publisher) *AMQPSink {
	return &AMQPSink{publisher: publisher}
}

// Handle publishes the event as JSON.
func (s *AMQPSink) Handle(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.publisher.Publish(ctx, string(event.Type), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	return nil
}
