package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// AgentAvailability is the presence state reported for an agent.
type AgentAvailability string

const (
	AgentAvailable AgentAvailability = "available"
	AgentBusy      AgentAvailability = "busy"
	AgentOffline   AgentAvailability = "offline"
	AgentOnBreak   AgentAvailability = "on_break"
)

// ParseAgentAvailability rejects values outside the closed set.
func ParseAgentAvailability(s string) (AgentAvailability, error) {
	switch v := AgentAvailability(strings.ToLower(strings.TrimSpace(s))); v {
	case AgentAvailable, AgentBusy, AgentOffline, AgentOnBreak:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown agent availability %q", apperrors.ErrValidation, s)
}

// Agent is a human operator who takes connected calls.
type Agent struct {
	ID           uuid.UUID
	Name         string
	Availability AgentAvailability
	CampaignIDs  []uuid.UUID
}

// EligibleFor reports whether the agent may take calls for the campaign.
func (a *Agent) EligibleFor(campaignID uuid.UUID) bool {
	for _, id := range a.CampaignIDs {
		if id == campaignID {
			return true
		}
	}
	return false
}
