package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-load-test/internal/domain"
)

// EventPublisher publishes call state transitions.
type EventPublisher struct {
	writer messageWriter
}

// NewEventPublisher constructs an event publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// PublishCallEvent emits an event keyed by room.
func (p *EventPublisher) PublishCallEvent(ctx context.Context, event domain.CallEvent) error {
	value, err := json.Marshal(EventMessage(event))
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(event.Room),
		Value: value,
		Time:  event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
