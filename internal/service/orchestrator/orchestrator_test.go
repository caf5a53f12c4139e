package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/compliance"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository/memory"
	"github.com/acme/campaign-dialer/internal/service/availability"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/service/lifecycle"
	"github.com/acme/campaign-dialer/internal/service/selector"
	"github.com/acme/campaign-dialer/internal/telephony"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

var afternoon = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

type fakeDialer struct {
	mu       sync.Mutex
	requests []telephony.DialRequest
	reject   map[string]bool
}

func (d *fakeDialer) RequestDial(_ context.Context, req telephony.DialRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject[req.To] {
		return "", errors.New("carrier rejected")
	}
	d.requests = append(d.requests, req)
	return fmt.Sprintf("ext-%d", len(d.requests)), nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type env struct {
	store    *memory.Store
	repos    memory.Repositories
	dialer   *fakeDialer
	guard    *concurrency.LocalGuard
	orch     *Orchestrator
	campaign *domain.Campaign
	leads    []*domain.Lead
	agents   []*domain.Agent
}

func newEnv(t *testing.T, strategy domain.DialingStrategy, ratio float64, agents, leads int) *env {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               "spring renewals",
		Strategy:           strategy,
		DialingRatio:       ratio,
		IsActive:           true,
		MaxAttemptsPerLead: 3,
		MinCallInterval:    time.Hour,
		CallWindow: domain.CallWindow{
			Start:          domain.Clock(9, 0),
			End:            domain.Clock(18, 0),
			TimeZone:       "UTC",
			TimeZonePolicy: domain.TimeZoneCampaign,
		},
		ListIDs:  []uuid.UUID{uuid.New()},
		CallerID: "+12015550000",
	}
	store.PutCampaign(campaign)

	e := &env{store: store, repos: repos, dialer: &fakeDialer{reject: map[string]bool{}}, guard: concurrency.NewLocalGuard(), campaign: campaign}
	for i := 0; i < leads; i++ {
		l := &domain.Lead{
			ID:           uuid.New(),
			ListID:       campaign.ListIDs[0],
			PrimaryPhone: fmt.Sprintf("+1201555%04d", 100+i),
			Status:       domain.LeadStatusNew,
			CreatedAt:    afternoon.Add(-time.Duration(leads-i) * time.Minute),
		}
		store.PutLead(l)
		e.leads = append(e.leads, l)
	}
	for i := 0; i < agents; i++ {
		a := &domain.Agent{ID: uuid.New(), Name: fmt.Sprintf("agent-%d", i), Availability: domain.AgentAvailable, CampaignIDs: []uuid.UUID{campaign.ID}}
		store.PutAgent(a)
		e.agents = append(e.agents, a)
	}

	pool := availability.NewPool(repos.Agents)
	tracker := lifecycle.New(lifecycle.Dependencies{
		Attempts:  repos.Attempts,
		Campaigns: repos.Campaigns,
		Stats:     repos.Stats,
		Journal:   repos.Journal,
		Pool:      pool,
		Clock:     func() time.Time { return afternoon },
	})
	e.orch = New(Dependencies{
		Campaigns:    repos.Campaigns,
		Leads:        repos.Leads,
		Agents:       repos.Agents,
		Stats:        repos.Stats,
		Pool:         pool,
		Selector:     selector.New(repos.Leads, repos.Dnc, compliance.NewGate("US"), 4),
		Tracker:      tracker,
		Dialer:       e.dialer,
		Guard:        e.guard,
		Clock:        func() time.Time { return afternoon },
		DefaultRatio: 1.0,
		WorkerCount:  2,
	})
	return e
}

func TestPreviewBindsOneLeadPerAgent(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 3, 10)

	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.CallsNeeded)
	assert.Equal(t, 3, sum.AttemptsCreated)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, 3, e.dialer.count())

	attempts := e.store.AttemptsForCampaign(e.campaign.ID)
	require.Len(t, attempts, 3)
	seen := map[uuid.UUID]bool{}
	for _, a := range attempts {
		require.NotNil(t, a.AgentID)
		assert.False(t, seen[*a.AgentID], "agent bound twice")
		seen[*a.AgentID] = true
		assert.Equal(t, domain.AttemptDialing, a.State)
		assert.NotEmpty(t, a.ExternalCallID)
	}
	for _, a := range e.agents {
		assert.Equal(t, domain.AgentBusy, e.store.Agent(a.ID).Availability)
	}
	// oldest leads go first at equal priority
	for _, l := range e.leads[:3] {
		assert.Equal(t, domain.LeadStatusInProgress, e.store.Lead(l.ID).Status)
	}
	assert.Equal(t, domain.LeadStatusNew, e.store.Lead(e.leads[3].ID).Status)
}

func TestPredictiveOverdialsWithoutAgents(t *testing.T) {
	e := newEnv(t, domain.StrategyPredictive, 2.5, 4, 6)

	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 10, sum.CallsNeeded)
	assert.Equal(t, 6, sum.AttemptsCreated)

	for _, a := range e.store.AttemptsForCampaign(e.campaign.ID) {
		assert.Nil(t, a.AgentID)
	}
	for _, a := range e.agents {
		assert.Equal(t, domain.AgentAvailable, e.store.Agent(a.ID).Availability)
	}
}

func TestDncListedLeadIsExcluded(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 2, 3)
	ctx := context.Background()
	blocked := e.leads[0]
	require.NoError(t, e.repos.Dnc.Add(ctx, domain.DncEntry{PhoneNumber: blocked.PrimaryPhone, Scope: domain.DncScopeGlobal}))

	sum, err := e.orch.RunCycle(ctx, e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.AttemptsCreated)
	assert.Equal(t, 1, sum.LeadsExcluded)

	got := e.store.Lead(blocked.ID)
	assert.Equal(t, domain.LeadStatusExcluded, got.Status)
	assert.Equal(t, domain.ExclusionDNC, got.ExclusionReason)
	assert.Empty(t, e.store.AttemptsForLead(blocked.ID))
	for _, req := range e.dialer.requests {
		assert.NotEqual(t, blocked.PrimaryPhone, req.To)
	}
}

func TestOutsideCallWindowDialsNothing(t *testing.T) {
	e := newEnv(t, domain.StrategyPredictive, 1.5, 2, 5)

	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sum.AttemptsCreated)
	assert.Zero(t, sum.LeadsExcluded)
	assert.Zero(t, e.dialer.count())
}

func TestInactiveAndAgentlessCyclesSkip(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 0, 5)
	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, SkipNoAgents, sum.Skipped)

	require.NoError(t, e.repos.Campaigns.SetActive(context.Background(), e.campaign.ID, false))
	sum, err = e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, SkipInactive, sum.Skipped)
	assert.Zero(t, e.dialer.count())
}

func TestConcurrentCyclesNeverDoubleDial(t *testing.T) {
	e := newEnv(t, domain.StrategyPredictive, 2.5, 4, 6)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, e.dialer.count())
	for _, l := range e.leads {
		assert.Len(t, e.store.AttemptsForLead(l.ID), 1)
	}
}

func TestDialRejectionFailsOnlyThatAttempt(t *testing.T) {
	e := newEnv(t, domain.StrategyPredictive, 1.0, 3, 3)
	e.dialer.reject[e.leads[1].PrimaryPhone] = true

	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.AttemptsCreated)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 2, e.dialer.count())

	failed := e.store.AttemptsForLead(e.leads[1].ID)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.AttemptFailed, failed[0].State)
	assert.Equal(t, domain.OutcomeDialRejected, failed[0].OutcomeCode)
	assert.Equal(t, domain.LeadStatusFailed, e.store.Lead(e.leads[1].ID).Status)
}

func TestInvalidNumberFailsAttempt(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 1, 2)
	bad := e.leads[0]
	bad.PrimaryPhone = "12"
	e.store.PutLead(bad)

	sum, err := e.orch.RunCycle(context.Background(), e.campaign.ID, afternoon)
	require.NoError(t, err)
	// the agent is released by the failure and picks up the next lead
	assert.Equal(t, 2, sum.AttemptsCreated)
	assert.Equal(t, 1, e.dialer.count())

	attempts := e.store.AttemptsForLead(bad.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.OutcomeInvalidNumber, attempts[0].OutcomeCode)
	assert.Equal(t, domain.AgentBusy, e.store.Agent(e.agents[0].ID).Availability)
}

func TestProcessSkipsWhileCycleRuns(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 1, 1)
	release, ok, err := e.guard.TryAcquire(context.Background(), e.campaign.ID)
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := e.orch.Process(context.Background(), e.campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrCycleInProgress)
	assert.Equal(t, SkipInProgress, sum.Skipped)
	assert.Zero(t, e.dialer.count())

	release()
	sum, err = e.orch.Process(context.Background(), e.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.AttemptsCreated)
}

func TestTriggerAggregatesCampaigns(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 2, 4)
	other := *e.campaign
	other.ID = uuid.New()
	other.ListIDs = []uuid.UUID{uuid.New()}
	e.store.PutCampaign(&other)

	total := e.orch.Trigger(context.Background())
	assert.Equal(t, 1, total.CampaignsProcessed)
	assert.Equal(t, 1, total.CampaignsSkipped)
	assert.Equal(t, 2, total.AttemptsCreated)
	assert.Zero(t, total.CampaignsFailed)
}

func TestManualCampaignQueuesThenAgentDials(t *testing.T) {
	e := newEnv(t, domain.StrategyManual, 0, 1, 3)
	ctx := context.Background()

	sum, err := e.orch.RunCycle(ctx, e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.LeadsQueued)
	assert.Zero(t, sum.AttemptsCreated)
	assert.Equal(t, domain.LeadStatusQueued, e.store.Lead(e.leads[0].ID).Status)

	attempt, err := e.orch.ManualDial(ctx, ManualDialInput{CampaignID: e.campaign.ID, LeadID: e.leads[0].ID, AgentID: e.agents[0].ID})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptDialing, attempt.State)
	require.NotNil(t, attempt.AgentID)
	assert.Equal(t, e.agents[0].ID, *attempt.AgentID)
	assert.Equal(t, domain.LeadStatusInProgress, e.store.Lead(e.leads[0].ID).Status)

	_, err = e.orch.ManualDial(ctx, ManualDialInput{CampaignID: e.campaign.ID, LeadID: e.leads[1].ID, AgentID: e.agents[0].ID})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestDncListedLeadBeyondNeedIsExcluded(t *testing.T) {
	e := newEnv(t, domain.StrategyPreview, 0, 1, 6)
	ctx := context.Background()
	blocked := e.leads[len(e.leads)-1]
	require.NoError(t, e.repos.Dnc.Add(ctx, domain.DncEntry{PhoneNumber: blocked.PrimaryPhone, Scope: domain.DncScopeGlobal}))

	sum, err := e.orch.RunCycle(ctx, e.campaign.ID, afternoon)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.AttemptsCreated)
	assert.Equal(t, 1, sum.LeadsExcluded)
	assert.Equal(t, domain.LeadStatusExcluded, e.store.Lead(blocked.ID).Status)
	for _, l := range e.leads[1 : len(e.leads)-1] {
		assert.Equal(t, domain.LeadStatusNew, e.store.Lead(l.ID).Status)
	}
}

func TestManualDialExcludesQueuedLeadListedAfterQueueing(t *testing.T) {
	e := newEnv(t, domain.StrategyManual, 0, 1, 1)
	ctx := context.Background()

	sum, err := e.orch.RunCycle(ctx, e.campaign.ID, afternoon)
	require.NoError(t, err)
	require.Equal(t, 1, sum.LeadsQueued)

	lead := e.leads[0]
	require.NoError(t, e.repos.Dnc.Add(ctx, domain.DncEntry{PhoneNumber: lead.PrimaryPhone, Scope: domain.DncScopeGlobal}))

	_, err = e.orch.ManualDial(ctx, ManualDialInput{CampaignID: e.campaign.ID, LeadID: lead.ID, AgentID: e.agents[0].ID})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	got := e.store.Lead(lead.ID)
	assert.Equal(t, domain.LeadStatusExcluded, got.Status)
	assert.True(t, got.IsExcluded)
	assert.Equal(t, domain.ExclusionDNC, got.ExclusionReason)
	assert.Empty(t, e.store.AttemptsForLead(lead.ID))
	assert.Equal(t, domain.AgentAvailable, e.store.Agent(e.agents[0].ID).Availability)
	assert.Zero(t, e.dialer.count())
}
