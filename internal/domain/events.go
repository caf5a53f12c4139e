package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// LifecycleEventType is the kind of telephony callback received for a call.
type LifecycleEventType string

const (
	EventConnected LifecycleEventType = "connected"
	EventEnded     LifecycleEventType = "ended"
	EventFailed    LifecycleEventType = "failed"
)

// ParseLifecycleEventType rejects values outside the closed set.
func ParseLifecycleEventType(s string) (LifecycleEventType, error) {
	switch v := LifecycleEventType(strings.ToLower(strings.TrimSpace(s))); v {
	case EventConnected, EventEnded, EventFailed:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown lifecycle event type %q", apperrors.ErrValidation, s)
}

// LifecycleEvent is a telephony callback correlated by external call id.
type LifecycleEvent struct {
	ExternalCallID  string
	Type            LifecycleEventType
	Timestamp       time.Time
	OutcomeCode     OutcomeCode
	DurationSeconds int
	AgentID         *uuid.UUID
}

// AttemptEvent is an append-only journal record of an applied attempt transition.
type AttemptEvent struct {
	CampaignID     uuid.UUID
	AttemptID      uuid.UUID
	LeadID         uuid.UUID
	ExternalCallID string
	State          AttemptState
	OutcomeCode    OutcomeCode
	OccurredAt     time.Time
}
