package memory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/phone"
)

// DncRepo implements repository.DncRepository. Entries are stored in canonical E.164 form;
// lookups match canonical numbers exactly.
type DncRepo struct{ s *Store }

func (r *DncRepo) Lookup(_ context.Context, numbers []string) ([]domain.DncEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		want[n] = struct{}{}
	}
	var out []domain.DncEntry
	for _, e := range r.s.dnc {
		if _, ok := want[e.PhoneNumber]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *DncRepo) IsListed(_ context.Context, number string, scope domain.DncScope, scopeID *uuid.UUID, now time.Time) (bool, error) {
	number = phone.Canonical(number, phone.DefaultRegion)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.dnc {
		if e.PhoneNumber != number || !e.Active(now) {
			continue
		}
		if e.Scope == domain.DncScopeGlobal {
			return true, nil
		}
		if e.Scope == scope && scopeID != nil && e.ScopeID != nil && *e.ScopeID == *scopeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *DncRepo) Add(_ context.Context, entry domain.DncEntry) error {
	entry.PhoneNumber = phone.Canonical(entry.PhoneNumber, phone.DefaultRegion)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.dnc = append(r.s.dnc, entry)
	return nil
}

// StatsRepo implements repository.CampaignStatisticsRepository.
type StatsRepo struct{ s *Store }

func (r *StatsRepo) Get(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stats[campaignID]
	if !ok {
		return &domain.CampaignStats{}, nil
	}
	cp := *st
	return &cp, nil
}

func (r *StatsRepo) ApplyDelta(_ context.Context, campaignID uuid.UUID, d repository.StatsDelta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.stats[campaignID]
	if !ok {
		st = &domain.CampaignStats{}
		r.s.stats[campaignID] = st
	}
	st.AttemptsCreated += d.AttemptsCreated
	st.Connected += d.Connected
	st.Contacted += d.Contacted
	st.NoAnswer += d.NoAnswer
	st.Failed += d.Failed
	st.Excluded += d.Excluded
	st.Recycled += d.Recycled
	return nil
}

// JournalRepo implements repository.AttemptJournal. The paging state is an offset.
type JournalRepo struct{ s *Store }

func (r *JournalRepo) Append(_ context.Context, event domain.AttemptEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.journal = append(r.s.journal, event)
	return nil
}

func (r *JournalRepo) ListByCampaign(_ context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptEvent, []byte, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	offset := 0
	if len(pagingState) > 0 {
		n, err := strconv.Atoi(string(pagingState))
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("%w: invalid paging state", apperrors.ErrValidation)
		}
		offset = n
	}
	if limit <= 0 {
		limit = 50
	}

	var matched []domain.AttemptEvent
	for _, e := range r.s.journal {
		if e.CampaignID == campaignID {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return nil, nil, nil
	}
	end := offset + limit
	if end >= len(matched) {
		return matched[offset:], nil, nil
	}
	return matched[offset:end], []byte(strconv.Itoa(end)), nil
}
