// Package telephony defines the contract with the voice platform that places calls.
package telephony

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
)

// DialRequest asks the voice platform to place one call.
type DialRequest struct {
	AttemptID  uuid.UUID
	CampaignID uuid.UUID
	LeadID     uuid.UUID
	To         string
	From       string
}

// Dialer hands dial requests to the voice platform. It returns once the request is
// accepted, with the id the platform will use in lifecycle events; it never waits
// for the call itself.
type Dialer interface {
	RequestDial(ctx context.Context, req DialRequest) (externalCallID string, err error)
}

// EmitFunc delivers a lifecycle event produced while a call runs.
type EmitFunc func(ctx context.Context, ev domain.LifecycleEvent) error

// Provider places a call and reports its progress through emit.
type Provider interface {
	PlaceCall(ctx context.Context, externalCallID string, req DialRequest, emit EmitFunc) error
}
