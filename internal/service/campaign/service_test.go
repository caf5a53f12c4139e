package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository/memory"
	"github.com/acme/campaign-dialer/internal/service/availability"
	"github.com/acme/campaign-dialer/internal/service/lifecycle"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

var now = time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC)

type stubProcessor struct {
	calls []uuid.UUID
	err   error
}

func (p *stubProcessor) Process(_ context.Context, id uuid.UUID) (orchestrator.Summary, error) {
	p.calls = append(p.calls, id)
	return orchestrator.Summary{CampaignID: id, AttemptsCreated: 2}, p.err
}

func setup(t *testing.T) (*memory.Store, *Service, *stubProcessor, *lifecycle.Tracker, *domain.Campaign) {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	campaign := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               "winback",
		Strategy:           domain.StrategyManual,
		MaxAttemptsPerLead: 3,
		CallWindow:         domain.CallWindow{Start: domain.Clock(9, 0), End: domain.Clock(17, 0)},
		ListIDs:            []uuid.UUID{uuid.New()},
	}
	store.PutCampaign(campaign)

	tracker := lifecycle.New(lifecycle.Dependencies{
		Attempts:  repos.Attempts,
		Campaigns: repos.Campaigns,
		Stats:     repos.Stats,
		Journal:   repos.Journal,
		Pool:      availability.NewPool(repos.Agents),
		Clock:     func() time.Time { return now },
	})
	proc := &stubProcessor{}
	svc := NewService(Dependencies{
		Campaigns: repos.Campaigns,
		Leads:     repos.Leads,
		Attempts:  repos.Attempts,
		Stats:     repos.Stats,
		Journal:   repos.Journal,
		Tracker:   tracker,
		Processor: proc,
		Clock:     func() time.Time { return now },
	})
	return store, svc, proc, tracker, campaign
}

func TestStartValidatesAndActivates(t *testing.T) {
	store, svc, _, _, campaign := setup(t)
	ctx := context.Background()

	got, err := svc.Start(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	again, err := svc.Start(ctx, campaign.ID)
	require.NoError(t, err)
	assert.True(t, again.IsActive)

	broken := &domain.Campaign{ID: uuid.New(), Strategy: domain.StrategyPredictive, MaxAttemptsPerLead: 1,
		CallWindow: domain.CallWindow{Start: domain.Clock(9, 0), End: domain.Clock(17, 0)}}
	store.PutCampaign(broken)
	_, err = svc.Start(ctx, broken.ID)
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Start(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPauseDeactivates(t *testing.T) {
	_, svc, _, _, campaign := setup(t)
	ctx := context.Background()
	_, err := svc.Start(ctx, campaign.ID)
	require.NoError(t, err)

	got, err := svc.Pause(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestStopFailsOpenAttemptsAndReleasesQueue(t *testing.T) {
	store, svc, _, tracker, campaign := setup(t)
	ctx := context.Background()
	_, err := svc.Start(ctx, campaign.ID)
	require.NoError(t, err)

	dialing := &domain.Lead{ID: uuid.New(), ListID: campaign.ListIDs[0], PrimaryPhone: "+12015550100", Status: domain.LeadStatusNew}
	queued := &domain.Lead{ID: uuid.New(), ListID: campaign.ListIDs[0], PrimaryPhone: "+12015550101", Status: domain.LeadStatusQueued}
	store.PutLead(dialing)
	store.PutLead(queued)

	attempt, err := tracker.Create(ctx, lifecycle.CreateInput{Campaign: campaign, Lead: dialing, At: now})
	require.NoError(t, err)
	_, err = tracker.MarkDialed(ctx, attempt.ID, "ext-1", now)
	require.NoError(t, err)

	result, err := svc.Stop(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AttemptsFailed)
	assert.Equal(t, 1, result.LeadsReleased)

	got, err := svc.Attempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFailed, got.State)
	assert.Equal(t, domain.OutcomeCampaignStopped, got.OutcomeCode)
	assert.Equal(t, domain.LeadStatusFailed, store.Lead(dialing.ID).Status)
	assert.Equal(t, domain.LeadStatusNew, store.Lead(queued.ID).Status)

	stored, err := svc.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)

	result, err = svc.Stop(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Zero(t, result.AttemptsFailed)
	assert.Zero(t, result.LeadsReleased)
}

func TestProcessNowDelegates(t *testing.T) {
	_, svc, proc, _, campaign := setup(t)

	sum, err := svc.ProcessNow(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.AttemptsCreated)
	assert.Equal(t, []uuid.UUID{campaign.ID}, proc.calls)

	proc.err = apperrors.ErrCycleInProgress
	_, err = svc.ProcessNow(context.Background(), campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrCycleInProgress)

	_, err = svc.ProcessNow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestHistoryPagesJournal(t *testing.T) {
	store, svc, _, tracker, campaign := setup(t)
	ctx := context.Background()
	lead := &domain.Lead{ID: uuid.New(), ListID: campaign.ListIDs[0], PrimaryPhone: "+12015550100", Status: domain.LeadStatusNew}
	store.PutLead(lead)
	attempt, err := tracker.Create(ctx, lifecycle.CreateInput{Campaign: campaign, Lead: lead, At: now})
	require.NoError(t, err)
	_, err = tracker.Fail(ctx, attempt.ID, now, domain.OutcomeNetworkError)
	require.NoError(t, err)

	events, next, err := svc.History(ctx, campaign.ID, 1, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotEmpty(t, next)

	events, _, err = svc.History(ctx, campaign.ID, 1, next)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.AttemptFailed, events[0].State)
}
