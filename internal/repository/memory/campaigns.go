package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// CampaignRepo implements repository.CampaignRepository.
type CampaignRepo struct{ s *Store }

func (r *CampaignRepo) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	cp.ListIDs = append([]uuid.UUID(nil), c.ListIDs...)
	return &cp, nil
}

func (r *CampaignRepo) List(_ context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	return r.list(func(c *domain.Campaign) bool {
		return afterID == nil || c.ID.String() > afterID.String()
	}, limit), nil
}

func (r *CampaignRepo) ListActive(_ context.Context, limit int) ([]*domain.Campaign, error) {
	return r.list(func(c *domain.Campaign) bool { return c.IsActive }, limit), nil
}

func (r *CampaignRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = active
	return nil
}

func (r *CampaignRepo) list(keep func(*domain.Campaign) bool, limit int) []*domain.Campaign {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Campaign, 0, len(r.s.campaigns))
	for _, c := range r.s.campaigns {
		if !keep(c) {
			continue
		}
		cp := *c
		cp.ListIDs = append([]uuid.UUID(nil), c.ListIDs...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
