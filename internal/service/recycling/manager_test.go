package recycling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository/memory"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, policy domain.AutoRecycle) (*memory.Store, *Manager, *domain.Campaign) {
	t.Helper()
	store := memory.NewStore()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Strategy:           domain.StrategyPredictive,
		DialingRatio:       1.5,
		MaxAttemptsPerLead: 3,
		AutoRecycle:        policy,
		ListIDs:            []uuid.UUID{uuid.New()},
	}
	store.PutCampaign(campaign)
	repos := store.Repositories()
	return store, NewManager(repos.Campaigns, repos.Leads, repos.Stats, nil, 2), campaign
}

func addLead(store *memory.Store, campaign *domain.Campaign, status domain.LeadStatus, attempts, recycles int, last time.Time) *domain.Lead {
	l := &domain.Lead{
		ID:            uuid.New(),
		ListID:        campaign.ListIDs[0],
		PrimaryPhone:  "+12125550100",
		Status:        status,
		AttemptCount:  attempts,
		RecycleCount:  recycles,
		LastAttemptAt: &last,
		CreatedAt:     last,
	}
	store.PutLead(l)
	return l
}

func TestRecyclesAfterCooldown(t *testing.T) {
	store, mgr, campaign := setup(t, domain.AutoRecycle{Enabled: true, MaxRecycleCount: 2, CooldownHours: 24})
	ready := addLead(store, campaign, domain.LeadStatusNoAnswer, 3, 0, now.Add(-25*time.Hour))
	cooling := addLead(store, campaign, domain.LeadStatusFailed, 3, 0, now.Add(-2*time.Hour))
	contacted := addLead(store, campaign, domain.LeadStatusContacted, 1, 0, now.Add(-48*time.Hour))

	summary, err := mgr.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Recycled)
	assert.Equal(t, 0, summary.Excluded)

	got := store.Lead(ready.ID)
	assert.Equal(t, domain.LeadStatusNew, got.Status)
	assert.Equal(t, 1, got.RecycleCount)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.LastAttemptAt)

	assert.Equal(t, domain.LeadStatusFailed, store.Lead(cooling.ID).Status)
	assert.Equal(t, domain.LeadStatusContacted, store.Lead(contacted.ID).Status)

	stats, err := store.Repositories().Stats.Get(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Recycled)
}

func TestExcludesOverRecycleLimit(t *testing.T) {
	store, mgr, campaign := setup(t, domain.AutoRecycle{Enabled: true, MaxRecycleCount: 2, CooldownHours: 1})
	lead := addLead(store, campaign, domain.LeadStatusNoAnswer, 3, 2, now.Add(-2*time.Hour))

	summary, err := mgr.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Excluded)

	got := store.Lead(lead.ID)
	assert.Equal(t, domain.LeadStatusExcluded, got.Status)
	assert.True(t, got.IsExcluded)
	assert.Equal(t, domain.ExclusionRecycleLimit, got.ExclusionReason)

	// a second pass leaves it alone
	summary, err = mgr.Run(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, summary.Recycled+summary.Excluded)
}

func TestDisabledRecyclingExcludesCappedLeads(t *testing.T) {
	store, mgr, campaign := setup(t, domain.AutoRecycle{})
	capped := addLead(store, campaign, domain.LeadStatusNoAnswer, 3, 0, now.Add(-time.Hour))
	under := addLead(store, campaign, domain.LeadStatusNoAnswer, 1, 0, now.Add(-time.Hour))

	_, err := mgr.Run(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, domain.ExclusionMaxAttempts, store.Lead(capped.ID).ExclusionReason)
	assert.Equal(t, domain.LeadStatusNoAnswer, store.Lead(under.ID).Status)
}

func TestRunPagesThroughLeads(t *testing.T) {
	store, mgr, campaign := setup(t, domain.AutoRecycle{Enabled: true, MaxRecycleCount: 5, CooldownHours: 1})
	for i := 0; i < 7; i++ {
		addLead(store, campaign, domain.LeadStatusNoAnswer, 1, 0, now.Add(-time.Duration(2+i)*time.Hour))
	}

	summary, err := mgr.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Recycled)
}
