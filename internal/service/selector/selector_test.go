package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/compliance"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/repository/memory"
)

var noon = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func fixture(t *testing.T, leads int) (*memory.Store, *domain.Campaign, []*domain.Lead) {
	t.Helper()
	store := memory.NewStore()
	list := uuid.New()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Strategy:           domain.StrategyPreview,
		IsActive:           true,
		MaxAttemptsPerLead: 3,
		CallWindow:         domain.CallWindow{Start: domain.Clock(8, 0), End: domain.Clock(20, 0), TimeZone: "UTC", TimeZonePolicy: domain.TimeZoneCampaign},
		ListIDs:            []uuid.UUID{list},
	}
	store.PutCampaign(campaign)

	out := make([]*domain.Lead, 0, leads)
	for i := 0; i < leads; i++ {
		l := &domain.Lead{
			ID:           uuid.New(),
			ListID:       list,
			PrimaryPhone: "+1212555" + string(rune('1'+i%9)) + "00" + string(rune('0'+i%10)),
			Status:       domain.LeadStatusNew,
			CreatedAt:    noon.Add(-time.Duration(leads-i) * time.Minute),
		}
		store.PutLead(l)
		out = append(out, l)
	}
	return store, campaign, out
}

func collect(t *testing.T, seq func(func(*domain.Lead, error) bool)) []*domain.Lead {
	t.Helper()
	var got []*domain.Lead
	for lead, err := range seq {
		require.NoError(t, err)
		got = append(got, lead)
	}
	return got
}

func TestSelectRespectsLimitAcrossPages(t *testing.T) {
	store, campaign, leads := fixture(t, 10)
	repos := store.Repositories()
	sel := New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 3)

	got := collect(t, sel.Select(context.Background(), Query{Campaign: campaign, Limit: 7, Now: noon}))
	require.Len(t, got, 7)
	for i, l := range got {
		assert.Equal(t, leads[i].ID, l.ID)
	}
}

func TestSelectIsRestartable(t *testing.T) {
	store, campaign, _ := fixture(t, 4)
	repos := store.Repositories()
	sel := New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 2)
	seq := sel.Select(context.Background(), Query{Campaign: campaign, Limit: 10, Now: noon})

	first := collect(t, seq)
	second := collect(t, seq)
	assert.Len(t, first, 4)
	assert.Equal(t, first, second)
}

func TestSelectSkipsClaimedAndReportsTerminal(t *testing.T) {
	store, campaign, leads := fixture(t, 4)
	repos := store.Repositories()
	ctx := context.Background()

	_, err := repos.Leads.Claim(ctx, leads[0].ID, domain.SelectableLeadStatuses, domain.LeadStatusInProgress)
	require.NoError(t, err)
	_, err = repos.Leads.Claim(ctx, leads[1].ID, domain.SelectableLeadStatuses, domain.LeadStatusQueued)
	require.NoError(t, err)
	require.NoError(t, repos.Dnc.Add(ctx, domain.DncEntry{PhoneNumber: leads[2].PrimaryPhone, Scope: domain.DncScopeGlobal}))

	var rejected []uuid.UUID
	sel := New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 10)
	got := collect(t, sel.Select(ctx, Query{
		Campaign: campaign,
		Limit:    10,
		Now:      noon,
		OnTerminal: func(_ context.Context, l *domain.Lead, res compliance.Result) {
			assert.Equal(t, compliance.ReasonDncListed, res.Reason)
			rejected = append(rejected, l.ID)
		},
	}))

	require.Len(t, got, 1)
	assert.Equal(t, leads[3].ID, got[0].ID)
	assert.Equal(t, []uuid.UUID{leads[2].ID}, rejected)
}

func TestSelectNeverYieldsCappedLeadWithoutRecycling(t *testing.T) {
	store, campaign, leads := fixture(t, 1)
	capped := *leads[0]
	capped.AttemptCount = campaign.MaxAttemptsPerLead
	capped.Status = domain.LeadStatusNoAnswer
	store.PutLead(&capped)

	repos := store.Repositories()
	sel := New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 10)
	assert.Empty(t, collect(t, sel.Select(context.Background(), Query{Campaign: campaign, Limit: 5, Now: noon})))
}

type failingLeads struct{ repository.LeadRepository }

func (failingLeads) ListCandidates(context.Context, repository.CandidateQuery) ([]*domain.Lead, error) {
	return nil, errors.New("connection reset")
}

func TestSelectYieldsRepositoryError(t *testing.T) {
	store, campaign, _ := fixture(t, 1)
	repos := store.Repositories()
	sel := New(failingLeads{repos.Leads}, repos.Dnc, compliance.NewGate("US"), 10)

	var errs int
	for lead, err := range sel.Select(context.Background(), Query{Campaign: campaign, Limit: 5, Now: noon}) {
		assert.Nil(t, lead)
		assert.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestSelectScreensPastLimit(t *testing.T) {
	store, campaign, leads := fixture(t, 7)
	repos := store.Repositories()
	ctx := context.Background()
	last := leads[len(leads)-1]
	require.NoError(t, repos.Dnc.Add(ctx, domain.DncEntry{PhoneNumber: last.PrimaryPhone, Scope: domain.DncScopeGlobal}))

	var rejected []uuid.UUID
	sel := New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 3)
	q := Query{
		Campaign: campaign,
		Limit:    2,
		Now:      noon,
		OnTerminal: func(_ context.Context, l *domain.Lead, _ compliance.Result) {
			rejected = append(rejected, l.ID)
		},
	}

	got := collect(t, sel.Select(ctx, q))
	require.Len(t, got, 2)
	assert.Equal(t, []uuid.UUID{last.ID}, rejected)

	rejected = nil
	for range sel.Select(ctx, q) {
		break
	}
	assert.Equal(t, []uuid.UUID{last.ID}, rejected)
}
