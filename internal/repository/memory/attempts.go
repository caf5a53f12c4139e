package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// AttemptRepo implements repository.AttemptRepository.
type AttemptRepo struct{ s *Store }

func (r *AttemptRepo) Create(_ context.Context, attempt *domain.CallAttempt, claimFrom []domain.LeadStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lead, ok := r.s.leads[attempt.LeadID]
	if !ok {
		return repository.ErrNotFound
	}
	if lead.IsExcluded || !domain.ContainsLeadStatus(claimFrom, lead.Status) {
		return repository.ErrConflict
	}
	for _, existing := range r.s.attempts {
		if existing.LeadID == lead.ID && !existing.State.IsTerminal() {
			return repository.ErrConflict
		}
	}
	if attempt.ExternalCallID != "" {
		if _, taken := r.s.byExtID[attempt.ExternalCallID]; taken {
			return repository.ErrConflict
		}
	}

	lead.Status = domain.LeadStatusInProgress
	lead.AttemptCount++
	r.s.attempts[attempt.ID] = copyAttempt(attempt)
	if attempt.ExternalCallID != "" {
		r.s.byExtID[attempt.ExternalCallID] = attempt.ID
	}
	return nil
}

func (r *AttemptRepo) Get(_ context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAttempt(a), nil
}

func (r *AttemptRepo) GetByExternalID(_ context.Context, externalCallID string) (*domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.byExtID[externalCallID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyAttempt(r.s.attempts[id]), nil
}

func (r *AttemptRepo) ListNonTerminal(_ context.Context, campaignID uuid.UUID) ([]*domain.CallAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CallAttempt
	for _, a := range r.s.attempts {
		if a.CampaignID == campaignID && !a.State.IsTerminal() {
			out = append(out, copyAttempt(a))
		}
	}
	return out, nil
}

func (r *AttemptRepo) Transition(_ context.Context, t repository.Transition) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.attempts[t.AttemptID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !domain.ContainsAttemptState(t.From, a.State) {
		return false, nil
	}
	if t.ExternalCallID != "" && t.ExternalCallID != a.ExternalCallID {
		if _, taken := r.s.byExtID[t.ExternalCallID]; taken {
			return false, repository.ErrConflict
		}
		r.s.byExtID[t.ExternalCallID] = a.ID
		a.ExternalCallID = t.ExternalCallID
	}

	a.State = t.To
	if t.AgentID != nil {
		id := *t.AgentID
		a.AgentID = &id
	}
	if t.AnsweredAt != nil {
		at := *t.AnsweredAt
		a.AnsweredAt = &at
	}
	if t.EndedAt != nil {
		at := *t.EndedAt
		a.EndedAt = &at
	}
	if t.OutcomeCode != "" {
		a.OutcomeCode = t.OutcomeCode
	}
	if t.DurationSeconds > 0 {
		a.DurationSeconds = t.DurationSeconds
	}

	if t.Lead != nil {
		if lead, ok := r.s.leads[a.LeadID]; ok && lead.Status == domain.LeadStatusInProgress {
			last := t.Lead.LastAttemptAt
			lead.Status = t.Lead.Status
			lead.LastAttemptAt = &last
			lead.NextEligibleAt = nil
			if t.Lead.NextEligibleAt != nil {
				next := *t.Lead.NextEligibleAt
				lead.NextEligibleAt = &next
			}
			if t.Lead.Status == domain.LeadStatusExcluded {
				lead.IsExcluded = true
				lead.ExclusionReason = t.Lead.ExclusionReason
			}
		}
	}

	if t.ReleaseAgentID != nil {
		if agent, ok := r.s.agents[*t.ReleaseAgentID]; ok && agent.Availability == domain.AgentBusy {
			agent.Availability = domain.AgentAvailable
		}
	}
	return true, nil
}
