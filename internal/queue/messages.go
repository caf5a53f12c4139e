package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// DialMessage asks the telephony bridge to place a call.
type DialMessage struct {
	ExternalCallID string    `json:"external_call_id"`
	AttemptID      uuid.UUID `json:"attempt_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	LeadID         uuid.UUID `json:"lead_id"`
	To             string    `json:"to"`
	From           string    `json:"from,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// LifecycleMessage carries a telephony callback for one call. The same shape is
// accepted by the webhook endpoint.
type LifecycleMessage struct {
	ExternalCallID  string     `json:"external_call_id" validate:"required"`
	EventType       string     `json:"event_type" validate:"required,oneof=connected ended failed"`
	Timestamp       time.Time  `json:"timestamp"`
	OutcomeCode     string     `json:"outcome_code,omitempty" validate:"omitempty,max=64"`
	DurationSeconds int        `json:"duration_seconds,omitempty" validate:"gte=0"`
	AgentID         *uuid.UUID `json:"agent_id,omitempty"`
}

// NewLifecycleMessage converts a domain event for transport.
func NewLifecycleMessage(ev domain.LifecycleEvent) LifecycleMessage {
	return LifecycleMessage{
		ExternalCallID:  ev.ExternalCallID,
		EventType:       string(ev.Type),
		Timestamp:       ev.Timestamp,
		OutcomeCode:     string(ev.OutcomeCode),
		DurationSeconds: ev.DurationSeconds,
		AgentID:         ev.AgentID,
	}
}

// Event parses the message back into a domain event, rejecting unknown event types.
func (m LifecycleMessage) Event() (domain.LifecycleEvent, error) {
	if m.ExternalCallID == "" {
		return domain.LifecycleEvent{}, fmt.Errorf("%w: external_call_id is required", apperrors.ErrValidation)
	}
	typ, err := domain.ParseLifecycleEventType(m.EventType)
	if err != nil {
		return domain.LifecycleEvent{}, err
	}
	return domain.LifecycleEvent{
		ExternalCallID:  m.ExternalCallID,
		Type:            typ,
		Timestamp:       m.Timestamp,
		OutcomeCode:     domain.OutcomeCode(m.OutcomeCode),
		DurationSeconds: m.DurationSeconds,
		AgentID:         m.AgentID,
	}, nil
}
