// Package lifecycle owns the call attempt state machine and feeds outcomes back into leads.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/availability"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Tracker applies attempt transitions. Every transition is a conditional update, so
// replayed or late events against finished attempts change nothing.
type Tracker struct {
	attempts  repository.AttemptRepository
	campaigns repository.CampaignRepository
	stats     repository.CampaignStatisticsRepository
	journal   repository.AttemptJournal
	pool      *availability.Pool
	logger    *logger.Logger
	clock     func() time.Time
}

// Dependencies wires a tracker.
type Dependencies struct {
	Attempts  repository.AttemptRepository
	Campaigns repository.CampaignRepository
	Stats     repository.CampaignStatisticsRepository
	Journal   repository.AttemptJournal
	Pool      *availability.Pool
	Logger    *logger.Logger
	Clock     func() time.Time
}

// New constructs a tracker.
func New(deps Dependencies) *Tracker {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	lg := deps.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Tracker{
		attempts:  deps.Attempts,
		campaigns: deps.Campaigns,
		stats:     deps.Stats,
		journal:   deps.Journal,
		pool:      deps.Pool,
		logger:    lg.Named("lifecycle"),
		clock:     clock,
	}
}

// CreateInput describes a new attempt.
type CreateInput struct {
	Campaign *domain.Campaign
	Lead     *domain.Lead
	Agent    *domain.Agent
	// ClaimFrom lists the lead statuses the claim may start from. Empty means selectable statuses.
	ClaimFrom []domain.LeadStatus
	At        time.Time
}

// Create claims the lead and records a new attempt in one step. ErrConflict means the lead
// was claimed by someone else or already has an attempt in flight.
func (t *Tracker) Create(ctx context.Context, in CreateInput) (*domain.CallAttempt, error) {
	if in.Campaign == nil || in.Lead == nil {
		return nil, fmt.Errorf("%w: campaign and lead are required", apperrors.ErrValidation)
	}
	at := t.at(in.At)
	claim := in.ClaimFrom
	if len(claim) == 0 {
		claim = domain.SelectableLeadStatuses
	}

	attempt := &domain.CallAttempt{
		ID:         uuid.New(),
		CampaignID: in.Campaign.ID,
		LeadID:     in.Lead.ID,
		State:      domain.AttemptCreated,
		StartedAt:  at,
	}
	if in.Agent != nil {
		id := in.Agent.ID
		attempt.AgentID = &id
	}

	if err := t.attempts.Create(ctx, attempt, claim); err != nil {
		return nil, fmt.Errorf("lifecycle: create attempt for lead %s: %w", in.Lead.ID, err)
	}

	t.record(ctx, attempt, domain.AttemptCreated, "", at, repository.StatsDelta{AttemptsCreated: 1})
	return attempt, nil
}

// MarkDialed records that the telephony collaborator accepted the dial request.
func (t *Tracker) MarkDialed(ctx context.Context, attemptID uuid.UUID, externalCallID string, at time.Time) (bool, error) {
	if externalCallID == "" {
		return false, fmt.Errorf("%w: external call id is required", apperrors.ErrValidation)
	}
	attempt, err := t.attempts.Get(ctx, attemptID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: load attempt %s: %w", attemptID, err)
	}
	return t.apply(ctx, attempt, repository.Transition{
		AttemptID:      attemptID,
		From:           []domain.AttemptState{domain.AttemptCreated},
		To:             domain.AttemptDialing,
		ExternalCallID: externalCallID,
	}, t.at(at), repository.StatsDelta{})
}

// OnConnected records that the callee answered. Attempts placed without an agent bind
// agentID when given, otherwise any free agent eligible for the campaign.
func (t *Tracker) OnConnected(ctx context.Context, attemptID uuid.UUID, at time.Time, agentID *uuid.UUID) (bool, error) {
	attempt, err := t.attempts.Get(ctx, attemptID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: load attempt %s: %w", attemptID, err)
	}
	if attempt.State != domain.AttemptDialing {
		return false, nil
	}

	var reserved *uuid.UUID
	if attempt.AgentID == nil {
		reserved = t.bindAgent(ctx, attempt, agentID)
	}

	at = t.at(at)
	applied, err := t.apply(ctx, attempt, repository.Transition{
		AttemptID:  attemptID,
		From:       []domain.AttemptState{domain.AttemptDialing},
		To:         domain.AttemptConnected,
		AgentID:    reserved,
		AnsweredAt: &at,
	}, at, repository.StatsDelta{Connected: 1})
	if (!applied || err != nil) && reserved != nil && t.pool != nil {
		if relErr := t.pool.Release(ctx, *reserved); relErr != nil {
			t.logger.Warn("lifecycle: release unbound agent", zap.Error(relErr), zap.String("agent_id", reserved.String()))
		}
	}
	return applied, err
}

func (t *Tracker) bindAgent(ctx context.Context, attempt *domain.CallAttempt, agentID *uuid.UUID) *uuid.UUID {
	if t.pool == nil {
		return nil
	}
	if agentID != nil {
		ok, err := t.pool.Reserve(ctx, *agentID)
		if err != nil {
			t.logger.Warn("lifecycle: reserve reported agent", zap.Error(err), zap.String("agent_id", agentID.String()))
			return nil
		}
		if ok {
			id := *agentID
			return &id
		}
		return nil
	}

	agent, err := t.pool.ReserveAny(ctx, attempt.CampaignID)
	if err != nil {
		t.logger.Warn("lifecycle: reserve agent for connected call", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
		return nil
	}
	if agent == nil {
		t.logger.Info("lifecycle: connected call has no free agent", zap.String("attempt_id", attempt.ID.String()), zap.String("campaign_id", attempt.CampaignID.String()))
		return nil
	}
	return &agent.ID
}

// OnEnded finishes a dialing or connected attempt and updates its lead.
func (t *Tracker) OnEnded(ctx context.Context, attemptID uuid.UUID, at time.Time, outcome domain.OutcomeCode, durationSeconds int) (bool, error) {
	attempt, err := t.attempts.Get(ctx, attemptID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: load attempt %s: %w", attemptID, err)
	}
	connected := attempt.AnsweredAt != nil
	if outcome == "" {
		outcome = domain.OutcomeNoAnswer
		if connected {
			outcome = domain.OutcomeAnswered
		}
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	return t.finish(ctx, attempt, []domain.AttemptState{domain.AttemptDialing, domain.AttemptConnected},
		domain.AttemptOutcome(connected, outcome), domain.LeadOutcome(connected, outcome, durationSeconds),
		outcome, durationSeconds, t.at(at))
}

// Fail terminates any non-terminal attempt as failed. It covers dial rejections, unusable
// numbers, and campaigns being stopped.
func (t *Tracker) Fail(ctx context.Context, attemptID uuid.UUID, at time.Time, outcome domain.OutcomeCode) (bool, error) {
	attempt, err := t.attempts.Get(ctx, attemptID)
	if err != nil {
		return false, fmt.Errorf("lifecycle: load attempt %s: %w", attemptID, err)
	}
	if outcome == "" {
		outcome = domain.OutcomeFailed
	}
	return t.finish(ctx, attempt, domain.NonTerminalAttemptStates, domain.AttemptFailed,
		domain.LeadStatusFailed, outcome, 0, t.at(at))
}

func (t *Tracker) finish(ctx context.Context, attempt *domain.CallAttempt, from []domain.AttemptState, state domain.AttemptState,
	leadStatus domain.LeadStatus, outcome domain.OutcomeCode, durationSeconds int, at time.Time) (bool, error) {
	if !domain.ContainsAttemptState(from, attempt.State) {
		return false, nil
	}

	update := &repository.LeadUpdate{Status: leadStatus, LastAttemptAt: at}
	if leadStatus == domain.LeadStatusExcluded {
		update.ExclusionReason = domain.ExclusionOptOut
	}
	if interval := t.minInterval(ctx, attempt.CampaignID); interval > 0 {
		next := at.Add(interval)
		update.NextEligibleAt = &next
	}

	delta := repository.StatsDelta{}
	switch leadStatus {
	case domain.LeadStatusContacted:
		delta.Contacted = 1
	case domain.LeadStatusNoAnswer:
		delta.NoAnswer = 1
	case domain.LeadStatusFailed:
		delta.Failed = 1
	case domain.LeadStatusExcluded:
		delta.Excluded = 1
	}

	applied, err := t.apply(ctx, attempt, repository.Transition{
		AttemptID:       attempt.ID,
		From:            from,
		To:              state,
		EndedAt:         &at,
		OutcomeCode:     outcome,
		DurationSeconds: durationSeconds,
		Lead:            update,
		ReleaseAgentID:  attempt.AgentID,
	}, at, delta)
	if applied && leadStatus == domain.LeadStatusExcluded {
		metrics.LeadsExcludedTotal.WithLabelValues("opt_out").Inc()
	}
	return applied, err
}

// Apply routes a telephony event to its attempt by external call id.
func (t *Tracker) Apply(ctx context.Context, ev domain.LifecycleEvent) (bool, error) {
	if ev.ExternalCallID == "" {
		return false, fmt.Errorf("%w: external call id is required", apperrors.ErrValidation)
	}
	attempt, err := t.attempts.GetByExternalID(ctx, ev.ExternalCallID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.LifecycleEventsTotal.WithLabelValues(string(ev.Type), "unknown").Inc()
		}
		return false, fmt.Errorf("lifecycle: resolve call %s: %w", ev.ExternalCallID, err)
	}

	var applied bool
	switch ev.Type {
	case domain.EventConnected:
		applied, err = t.OnConnected(ctx, attempt.ID, ev.Timestamp, ev.AgentID)
	case domain.EventEnded:
		applied, err = t.OnEnded(ctx, attempt.ID, ev.Timestamp, ev.OutcomeCode, ev.DurationSeconds)
	case domain.EventFailed:
		outcome := ev.OutcomeCode
		if outcome == "" {
			outcome = domain.OutcomeFailed
		}
		applied, err = t.OnEnded(ctx, attempt.ID, ev.Timestamp, outcome, ev.DurationSeconds)
	default:
		return false, fmt.Errorf("%w: unknown lifecycle event type %q", apperrors.ErrValidation, ev.Type)
	}
	if err != nil {
		return false, err
	}

	outcome := "applied"
	if !applied {
		outcome = "duplicate"
		t.logger.Debug("lifecycle: event ignored", zap.String("external_call_id", ev.ExternalCallID),
			zap.String("event_type", string(ev.Type)), zap.String("state", string(attempt.State)))
	}
	metrics.LifecycleEventsTotal.WithLabelValues(string(ev.Type), outcome).Inc()
	return applied, nil
}

func (t *Tracker) apply(ctx context.Context, attempt *domain.CallAttempt, tr repository.Transition, at time.Time, delta repository.StatsDelta) (bool, error) {
	applied, err := t.attempts.Transition(ctx, tr)
	if err != nil {
		return false, fmt.Errorf("lifecycle: %s -> %s for attempt %s: %w", attempt.State, tr.To, attempt.ID, err)
	}
	if !applied {
		return false, nil
	}
	if tr.ExternalCallID != "" {
		attempt.ExternalCallID = tr.ExternalCallID
	}
	t.record(ctx, attempt, tr.To, tr.OutcomeCode, at, delta)
	return true, nil
}

// record journals and counts a transition. Failures are logged; the transition already committed.
func (t *Tracker) record(ctx context.Context, attempt *domain.CallAttempt, state domain.AttemptState, outcome domain.OutcomeCode, at time.Time, delta repository.StatsDelta) {
	if t.journal != nil {
		err := t.journal.Append(ctx, domain.AttemptEvent{
			CampaignID:     attempt.CampaignID,
			AttemptID:      attempt.ID,
			LeadID:         attempt.LeadID,
			ExternalCallID: attempt.ExternalCallID,
			State:          state,
			OutcomeCode:    outcome,
			OccurredAt:     at,
		})
		if err != nil {
			t.logger.Warn("lifecycle: journal append failed", zap.Error(err), zap.String("attempt_id", attempt.ID.String()))
		}
	}
	if t.stats != nil && !delta.IsZero() {
		if err := t.stats.ApplyDelta(ctx, attempt.CampaignID, delta); err != nil {
			t.logger.Warn("lifecycle: stats update failed", zap.Error(err), zap.String("campaign_id", attempt.CampaignID.String()))
		}
	}
}

func (t *Tracker) minInterval(ctx context.Context, campaignID uuid.UUID) time.Duration {
	if t.campaigns == nil {
		return 0
	}
	campaign, err := t.campaigns.Get(ctx, campaignID)
	if err != nil {
		t.logger.Warn("lifecycle: load campaign for interval", zap.Error(err), zap.String("campaign_id", campaignID.String()))
		return 0
	}
	return campaign.MinCallInterval
}

func (t *Tracker) at(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.clock()
	}
	return ts.UTC()
}
