package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// AgentRepo implements repository.AgentRepository.
type AgentRepo struct{ s *Store }

func (r *AgentRepo) Get(_ context.Context, id uuid.UUID) (*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAgent(a), nil
}

func (r *AgentRepo) ListAvailable(_ context.Context, campaignID uuid.UUID) ([]*domain.Agent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Agent
	for _, id := range r.s.agentSeq {
		a := r.s.agents[id]
		if a.Availability == domain.AgentAvailable && a.EligibleFor(campaignID) {
			out = append(out, copyAgent(a))
		}
	}
	return out, nil
}

func (r *AgentRepo) SetAvailability(_ context.Context, id uuid.UUID, from, to domain.AgentAvailability) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.agents[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if a.Availability != from {
		return false, nil
	}
	a.Availability = to
	return true, nil
}
