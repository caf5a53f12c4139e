// Package availability exposes which agents can take calls and reserves them atomically.
package availability

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// Pool reads agent availability per campaign.
type Pool struct {
	agents repository.AgentRepository
}

// NewPool constructs a pool over the agent repository.
func NewPool(agents repository.AgentRepository) *Pool {
	return &Pool{agents: agents}
}

// Available returns a snapshot of agents that are available and eligible for the campaign.
// The snapshot may be stale by the time it is used; Reserve is the authority.
func (p *Pool) Available(ctx context.Context, campaignID uuid.UUID) ([]*domain.Agent, error) {
	agents, err := p.agents.ListAvailable(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("availability: list agents: %w", err)
	}
	return agents, nil
}

// Reserve flips an available agent to busy. False means the agent was taken or went away.
func (p *Pool) Reserve(ctx context.Context, agentID uuid.UUID) (bool, error) {
	ok, err := p.agents.SetAvailability(ctx, agentID, domain.AgentAvailable, domain.AgentBusy)
	if err != nil {
		return false, fmt.Errorf("availability: reserve agent %s: %w", agentID, err)
	}
	return ok, nil
}

// Release returns a busy agent to available. Agents that went offline stay offline.
func (p *Pool) Release(ctx context.Context, agentID uuid.UUID) error {
	if _, err := p.agents.SetAvailability(ctx, agentID, domain.AgentBusy, domain.AgentAvailable); err != nil {
		return fmt.Errorf("availability: release agent %s: %w", agentID, err)
	}
	return nil
}

// ReserveAny reserves the first agent eligible for the campaign that can still be reserved.
// It returns nil when none is free.
func (p *Pool) ReserveAny(ctx context.Context, campaignID uuid.UUID) (*domain.Agent, error) {
	agents, err := p.Available(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		ok, err := p.Reserve(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			a.Availability = domain.AgentBusy
			return a, nil
		}
	}
	return nil, nil
}
