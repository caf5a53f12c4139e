package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// LeadRepo implements repository.LeadRepository.
type LeadRepo struct{ s *Store }

func (r *LeadRepo) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyLead(l), nil
}

func (r *LeadRepo) ListCandidates(_ context.Context, q repository.CandidateQuery) ([]*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Lead
	for _, l := range r.s.leads {
		if l.IsExcluded || !containsID(q.ListIDs, l.ListID) || !domain.ContainsLeadStatus(q.Statuses, l.Status) {
			continue
		}
		if q.MaxAttempts > 0 && l.AttemptCount >= q.MaxAttempts {
			continue
		}
		if l.NextEligibleAt != nil && l.NextEligibleAt.After(q.Now) {
			continue
		}
		if q.After != nil && compareToCursor(l, q.After) <= 0 {
			continue
		}
		out = append(out, copyLead(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return compareToCursor(out[i], repository.CursorAfter(out[j])) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// compareToCursor orders by priority desc, last attempt asc with nil first, created asc, id asc.
func compareToCursor(l *domain.Lead, c *repository.LeadCursor) int {
	if l.Priority != c.Priority {
		if l.Priority > c.Priority {
			return -1
		}
		return 1
	}
	switch {
	case l.LastAttemptAt == nil && c.LastAttemptAt != nil:
		return -1
	case l.LastAttemptAt != nil && c.LastAttemptAt == nil:
		return 1
	case l.LastAttemptAt != nil && c.LastAttemptAt != nil && !l.LastAttemptAt.Equal(*c.LastAttemptAt):
		if l.LastAttemptAt.Before(*c.LastAttemptAt) {
			return -1
		}
		return 1
	}
	if !l.CreatedAt.Equal(c.CreatedAt) {
		if l.CreatedAt.Before(c.CreatedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(l.ID.String(), c.ID.String())
}

func (r *LeadRepo) ListByStatus(_ context.Context, q repository.StatusQuery) ([]*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Lead
	for _, l := range r.s.leads {
		if !containsID(q.ListIDs, l.ListID) || !domain.ContainsLeadStatus(q.Statuses, l.Status) {
			continue
		}
		if q.AfterID != nil && !afterCreated(l, q.AfterTime, *q.AfterID) {
			continue
		}
		out = append(out, copyLead(l))
	}
	sort.Slice(out, func(i, j int) bool {
		return afterCreated(out[j], out[i].CreatedAt, out[i].ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func afterCreated(l *domain.Lead, at time.Time, id uuid.UUID) bool {
	if !l.CreatedAt.Equal(at) {
		return l.CreatedAt.After(at)
	}
	return l.ID.String() > id.String()
}

func (r *LeadRepo) Claim(_ context.Context, id uuid.UUID, from []domain.LeadStatus, to domain.LeadStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if l.IsExcluded || !domain.ContainsLeadStatus(from, l.Status) {
		return false, nil
	}
	l.Status = to
	return true, nil
}

func (r *LeadRepo) Exclude(_ context.Context, id uuid.UUID, from []domain.LeadStatus, reason string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if l.IsExcluded || !domain.ContainsLeadStatus(from, l.Status) {
		return false, nil
	}
	l.Status = domain.LeadStatusExcluded
	l.IsExcluded = true
	l.ExclusionReason = reason
	return true, nil
}

func (r *LeadRepo) Recycle(_ context.Context, id uuid.UUID, from domain.LeadStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if l.IsExcluded || l.Status != from {
		return false, nil
	}
	l.Status = domain.LeadStatusNew
	l.RecycleCount++
	l.AttemptCount = 0
	l.LastAttemptAt = nil
	l.NextEligibleAt = nil
	return true, nil
}
