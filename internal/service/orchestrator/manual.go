package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// ManualDialInput names the agent dialing a queued lead.
type ManualDialInput struct {
	CampaignID uuid.UUID
	LeadID     uuid.UUID
	AgentID    uuid.UUID
}

// ManualDial lets an agent dial a lead queued for a manual campaign. The same dial-time
// checks as automated cycles apply.
func (o *Orchestrator) ManualDial(ctx context.Context, in ManualDialInput) (*domain.CallAttempt, error) {
	campaign, err := o.campaigns.Get(ctx, in.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load campaign: %w", err)
	}
	if !campaign.IsActive {
		return nil, fmt.Errorf("%w: campaign %s is not active", apperrors.ErrConflict, campaign.ID)
	}
	if campaign.Strategy != domain.StrategyManual {
		return nil, fmt.Errorf("%w: campaign %s does not use manual dialing", apperrors.ErrValidation, campaign.ID)
	}

	lead, err := o.leads.Get(ctx, in.LeadID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load lead: %w", err)
	}
	if !containsID(campaign.ListIDs, lead.ListID) {
		return nil, fmt.Errorf("%w: lead %s is not in a list of campaign %s", apperrors.ErrValidation, lead.ID, campaign.ID)
	}
	if lead.Status != domain.LeadStatusQueued {
		return nil, fmt.Errorf("%w: lead %s is %s, not queued", apperrors.ErrInvalidTransition, lead.ID, lead.Status)
	}

	agent, err := o.agents.Get(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load agent: %w", err)
	}
	if !agent.EligibleFor(campaign.ID) {
		return nil, fmt.Errorf("%w: agent %s is not assigned to campaign %s", apperrors.ErrValidation, agent.ID, campaign.ID)
	}
	reserved, err := o.pool.Reserve(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if !reserved {
		return nil, fmt.Errorf("%w: agent %s is not available", apperrors.ErrConflict, agent.ID)
	}

	var sum Summary
	outcome, attempt, err := o.place(ctx, campaign, lead, agent, []domain.LeadStatus{domain.LeadStatusQueued}, o.clock(), &sum)
	if outcome == placementSkipped {
		o.releaseAgent(ctx, agent.ID)
	}
	if err != nil {
		o.logger.Warn("orchestrator: manual dial failed", zap.Error(err),
			zap.String("campaign_id", campaign.ID.String()), zap.String("lead_id", lead.ID.String()))
		switch {
		case errors.Is(err, errInvalidNumber):
			return attempt, fmt.Errorf("%w: %w", apperrors.ErrValidation, err)
		case errors.Is(err, errDial):
			return attempt, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
		}
		return attempt, err
	}
	return attempt, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
