package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/campaign-dialer/internal/domain"
)

// EventPublisher publishes lifecycle events keyed by external call id, so every event
// for one call lands on the same partition in order.
type EventPublisher struct {
	writer MessageWriter
}

// NewEventPublisher constructs a publisher for the given topic.
func NewEventPublisher(k *Kafka, topic string) *EventPublisher {
	return &EventPublisher{writer: k.NewWriter(topic)}
}

// NewEventPublisherWithWriter constructs a publisher over an existing writer.
func NewEventPublisherWithWriter(w MessageWriter) *EventPublisher {
	return &EventPublisher{writer: w}
}

// Publish emits one lifecycle event.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	return p.PublishMessage(ctx, NewLifecycleMessage(ev))
}

// PublishMessage emits an already-encoded lifecycle message.
func (p *EventPublisher) PublishMessage(ctx context.Context, msg LifecycleMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   []byte(msg.ExternalCallID),
		Value: value,
		Time:  time.Now().UTC(),
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
