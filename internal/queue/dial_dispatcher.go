package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/acme/campaign-dialer/internal/telephony"
)

// MessageWriter is the subset of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DialDispatcher implements telephony.Dialer by publishing dial requests to Kafka.
type DialDispatcher struct {
	writer MessageWriter
}

var _ telephony.Dialer = (*DialDispatcher)(nil)

// NewDialDispatcher constructs a dispatcher for the given topic.
func NewDialDispatcher(k *Kafka, topic string) *DialDispatcher {
	return &DialDispatcher{writer: k.NewWriter(topic)}
}

// NewDialDispatcherWithWriter constructs a dispatcher over an existing writer.
func NewDialDispatcherWithWriter(w MessageWriter) *DialDispatcher {
	return &DialDispatcher{writer: w}
}

// RequestDial assigns the external call id and enqueues the request.
func (d *DialDispatcher) RequestDial(ctx context.Context, req telephony.DialRequest) (string, error) {
	msg := DialMessage{
		ExternalCallID: uuid.NewString(),
		AttemptID:      req.AttemptID,
		CampaignID:     req.CampaignID,
		LeadID:         req.LeadID,
		To:             req.To,
		From:           req.From,
		EnqueuedAt:     time.Now().UTC(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("dial dispatcher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.ExternalCallID),
		Value: value,
		Time:  msg.EnqueuedAt,
	}
	if err := d.writer.WriteMessages(ctx, record); err != nil {
		return "", fmt.Errorf("dial dispatcher: write message: %w", err)
	}
	return msg.ExternalCallID, nil
}

// Close closes the underlying writer.
func (d *DialDispatcher) Close() error {
	return d.writer.Close()
}
