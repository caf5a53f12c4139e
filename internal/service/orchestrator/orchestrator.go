// Package orchestrator runs dialing cycles: it paces against available agents, selects
// compliant leads, and hands attempts to the telephony collaborator.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/compliance"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/availability"
	"github.com/acme/campaign-dialer/internal/service/concurrency"
	"github.com/acme/campaign-dialer/internal/service/lifecycle"
	"github.com/acme/campaign-dialer/internal/service/pacing"
	"github.com/acme/campaign-dialer/internal/service/selector"
	"github.com/acme/campaign-dialer/internal/telephony"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
	"github.com/acme/campaign-dialer/pkg/phone"
)

// ErrNotEligible marks a lead that failed a compliance check at dial time.
var ErrNotEligible = fmt.Errorf("%w: lead is not eligible", apperrors.ErrConflict)

var (
	errCompliance    = errors.New("compliance recheck")
	errInvalidNumber = errors.New("invalid number")
	errDial          = errors.New("dial request")
	errQueue         = errors.New("queue lead")
)

// Skip reasons reported in Summary.Skipped.
const (
	SkipInactive   = "inactive"
	SkipNoAgents   = "no available agents"
	SkipNoCapacity = "no calls needed"
	SkipInProgress = "cycle in progress"
)

// Summary reports what one campaign cycle did.
type Summary struct {
	CampaignID      uuid.UUID
	Strategy        domain.DialingStrategy
	Skipped         string
	AgentsAvailable int
	CallsNeeded     int
	LeadsConsidered int
	AttemptsCreated int
	LeadsQueued     int
	LeadsExcluded   int
	Errors          int
}

// Dependencies wires an orchestrator.
type Dependencies struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Agents    repository.AgentRepository
	Stats     repository.CampaignStatisticsRepository
	Pool      *availability.Pool
	Selector  *selector.Selector
	Tracker   *lifecycle.Tracker
	Dialer    telephony.Dialer
	Guard     concurrency.Guard
	Logger    *logger.Logger
	Clock     func() time.Time

	DefaultRatio       float64
	DefaultRegion      string
	WorkerCount        int
	CampaignFetchLimit int
	DialTimeout        time.Duration
}

// Orchestrator runs cycles for campaigns.
type Orchestrator struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	agents    repository.AgentRepository
	stats     repository.CampaignStatisticsRepository
	pool      *availability.Pool
	selector  *selector.Selector
	tracker   *lifecycle.Tracker
	dialer    telephony.Dialer
	guard     concurrency.Guard
	logger    *logger.Logger
	clock     func() time.Time
	tracer    trace.Tracer

	defaultRatio float64
	region       string
	workerCount  int
	fetchLimit   int
	dialTimeout  time.Duration
}

// New constructs an orchestrator.
func New(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		campaigns:    deps.Campaigns,
		leads:        deps.Leads,
		agents:       deps.Agents,
		stats:        deps.Stats,
		pool:         deps.Pool,
		selector:     deps.Selector,
		tracker:      deps.Tracker,
		dialer:       deps.Dialer,
		guard:        deps.Guard,
		logger:       deps.Logger,
		clock:        deps.Clock,
		tracer:       otel.Tracer("dialer.orchestrator"),
		defaultRatio: deps.DefaultRatio,
		region:       deps.DefaultRegion,
		workerCount:  deps.WorkerCount,
		fetchLimit:   deps.CampaignFetchLimit,
		dialTimeout:  deps.DialTimeout,
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	o.logger = o.logger.Named("orchestrator")
	if o.clock == nil {
		o.clock = func() time.Time { return time.Now().UTC() }
	}
	if o.guard == nil {
		o.guard = concurrency.NewLocalGuard()
	}
	if o.region == "" {
		o.region = phone.DefaultRegion
	}
	if o.workerCount <= 0 {
		o.workerCount = 4
	}
	if o.fetchLimit <= 0 {
		o.fetchLimit = 500
	}
	if o.dialTimeout <= 0 {
		o.dialTimeout = 5 * time.Second
	}
	return o
}

// Process runs one cycle for the campaign unless one is already running, in which case it
// returns ErrCycleInProgress without doing anything.
func (o *Orchestrator) Process(ctx context.Context, campaignID uuid.UUID) (Summary, error) {
	release, ok, err := o.guard.TryAcquire(ctx, campaignID)
	if err != nil {
		return Summary{CampaignID: campaignID}, fmt.Errorf("orchestrator: acquire cycle lease: %w", err)
	}
	if !ok {
		metrics.CyclesTotal.WithLabelValues("", "skipped").Inc()
		return Summary{CampaignID: campaignID, Skipped: SkipInProgress}, apperrors.ErrCycleInProgress
	}
	defer release()
	return o.RunCycle(ctx, campaignID, o.clock())
}

// RunCycle performs one cycle at now. Per-candidate failures are counted in the summary;
// an error is returned only when the cycle as a whole could not run.
func (o *Orchestrator) RunCycle(ctx context.Context, campaignID uuid.UUID, now time.Time) (Summary, error) {
	started := time.Now()
	sum := Summary{CampaignID: campaignID}
	ctx, span := o.tracer.Start(ctx, "orchestrator.cycle", trace.WithAttributes(
		attribute.String("campaign.id", campaignID.String()),
	))
	defer span.End()

	sum, err := o.runCycle(ctx, sum, now)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		o.logger.Error("orchestrator: cycle failed", zap.Error(err), zap.String("campaign_id", campaignID.String()))
	case sum.Skipped != "":
		result = "skipped"
	}
	span.SetAttributes(
		attribute.String("strategy", string(sum.Strategy)),
		attribute.Int("attempts.created", sum.AttemptsCreated),
		attribute.Int("leads.excluded", sum.LeadsExcluded),
		attribute.Int("errors", sum.Errors),
	)
	metrics.CyclesTotal.WithLabelValues(string(sum.Strategy), result).Inc()
	metrics.CycleDurationSeconds.Observe(time.Since(started).Seconds())
	return sum, err
}

func (o *Orchestrator) runCycle(ctx context.Context, sum Summary, now time.Time) (Summary, error) {
	campaign, err := o.campaigns.Get(ctx, sum.CampaignID)
	if err != nil {
		return sum, fmt.Errorf("orchestrator: load campaign: %w", err)
	}
	sum.Strategy = campaign.Strategy
	if !campaign.IsActive {
		sum.Skipped = SkipInactive
		return sum, nil
	}
	if err := campaign.Validate(); err != nil {
		return sum, fmt.Errorf("orchestrator: campaign %s: %w", campaign.ID, err)
	}

	agents, err := o.pool.Available(ctx, campaign.ID)
	if err != nil {
		return sum, fmt.Errorf("orchestrator: %w", err)
	}
	sum.AgentsAvailable = len(agents)
	if len(agents) == 0 {
		sum.Skipped = SkipNoAgents
		return sum, nil
	}

	sum.CallsNeeded = pacing.CallsNeeded(campaign.Strategy, len(agents), campaign.DialingRatio, o.defaultRatio)
	if sum.CallsNeeded == 0 {
		sum.Skipped = SkipNoCapacity
		return sum, nil
	}

	limit := sum.CallsNeeded
	if campaign.Strategy == domain.StrategyPreview {
		// agents whose lead fails at dial time take a replacement from the same pass
		limit *= 2
	}
	candidates := o.selector.Select(ctx, selector.Query{
		Campaign: campaign,
		Limit:    limit,
		Now:      now,
		OnTerminal: func(ctx context.Context, lead *domain.Lead, res compliance.Result) {
			o.exclude(ctx, campaign, lead, res, &sum)
		},
	})

	switch campaign.Strategy {
	case domain.StrategyPreview:
		err = o.runPreview(ctx, campaign, agents, candidates, now, &sum)
	case domain.StrategyPredictive:
		err = o.runPredictive(ctx, campaign, candidates, now, &sum)
	case domain.StrategyManual:
		err = o.runManual(ctx, campaign, candidates, &sum)
	}

	o.logger.Info("orchestrator: cycle finished",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("strategy", string(campaign.Strategy)),
		zap.Int("agents", sum.AgentsAvailable),
		zap.Int("needed", sum.CallsNeeded),
		zap.Int("attempts", sum.AttemptsCreated),
		zap.Int("queued", sum.LeadsQueued),
		zap.Int("excluded", sum.LeadsExcluded),
		zap.Int("errors", sum.Errors),
	)
	return sum, err
}

// runPreview binds one lead to each available agent.
func (o *Orchestrator) runPreview(ctx context.Context, campaign *domain.Campaign, agents []*domain.Agent, candidates iter.Seq2[*domain.Lead, error], now time.Time, sum *Summary) error {
	next, stop := iter.Pull2(candidates)
	defer stop()

agents:
	for _, agent := range agents {
		reserved, err := o.pool.Reserve(ctx, agent.ID)
		if err != nil {
			sum.Errors++
			o.logger.Warn("orchestrator: reserve agent", zap.Error(err), zap.String("agent_id", agent.ID.String()))
			continue
		}
		if !reserved {
			continue
		}

		for {
			lead, err, ok := next()
			if !ok || err != nil {
				o.releaseAgent(ctx, agent.ID)
				return err
			}
			sum.LeadsConsidered++

			outcome, _, err := o.place(ctx, campaign, lead, agent, nil, now, sum)
			o.countFailure(campaign, lead, err, sum)
			switch outcome {
			case placementDialed:
				continue agents
			case placementFailed:
				// the failed attempt released the agent
				if ok, _ := o.pool.Reserve(ctx, agent.ID); !ok {
					continue agents
				}
			}
		}
	}
	return nil
}

// runPredictive launches attempts without agents; agents are bound when calls connect.
func (o *Orchestrator) runPredictive(ctx context.Context, campaign *domain.Campaign, candidates iter.Seq2[*domain.Lead, error], now time.Time, sum *Summary) error {
	for lead, err := range candidates {
		if err != nil {
			return err
		}
		sum.LeadsConsidered++
		_, _, placeErr := o.place(ctx, campaign, lead, nil, nil, now, sum)
		o.countFailure(campaign, lead, placeErr, sum)
	}
	return nil
}

// runManual only queues leads; agents dial them through ManualDial.
func (o *Orchestrator) runManual(ctx context.Context, campaign *domain.Campaign, candidates iter.Seq2[*domain.Lead, error], sum *Summary) error {
	for lead, err := range candidates {
		if err != nil {
			return err
		}
		sum.LeadsConsidered++
		claimed, err := o.leads.Claim(ctx, lead.ID, domain.SelectableLeadStatuses, domain.LeadStatusQueued)
		if err != nil {
			o.countFailure(campaign, lead, fmt.Errorf("%w: %w", errQueue, err), sum)
			continue
		}
		if claimed {
			sum.LeadsQueued++
		}
	}
	return nil
}

type placement int

const (
	placementSkipped placement = iota
	placementDialed
	placementFailed
)

// place re-checks compliance, creates the attempt, and requests the dial. placementFailed
// means an attempt was created and then failed, which releases its agent.
func (o *Orchestrator) place(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, agent *domain.Agent, claimFrom []domain.LeadStatus, now time.Time, sum *Summary) (placement, *domain.CallAttempt, error) {
	res, err := o.selector.Check(ctx, lead, campaign, now)
	if err != nil {
		return placementSkipped, nil, fmt.Errorf("%w: %w", errCompliance, err)
	}
	if !res.Passed {
		if res.Terminal {
			o.exclude(ctx, campaign, lead, res, sum)
		}
		return placementSkipped, nil, fmt.Errorf("%w: %s", ErrNotEligible, res.Reason)
	}

	to, phoneErr := phone.NormalizeE164(lead.PrimaryPhone, o.region)

	attempt, err := o.tracker.Create(ctx, lifecycle.CreateInput{
		Campaign:  campaign,
		Lead:      lead,
		Agent:     agent,
		ClaimFrom: claimFrom,
		At:        now,
	})
	if err != nil {
		return placementSkipped, nil, err
	}
	sum.AttemptsCreated++
	metrics.AttemptsCreatedTotal.WithLabelValues(string(campaign.Strategy)).Inc()

	if phoneErr != nil {
		o.failAttempt(ctx, attempt, domain.OutcomeInvalidNumber, now)
		return placementFailed, attempt, fmt.Errorf("%w: %w", errInvalidNumber, phoneErr)
	}

	dctx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	externalID, err := o.dialer.RequestDial(dctx, telephony.DialRequest{
		AttemptID:  attempt.ID,
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		To:         to,
		From:       campaign.CallerID,
	})
	cancel()
	if err != nil {
		o.failAttempt(ctx, attempt, domain.OutcomeDialRejected, now)
		return placementFailed, attempt, fmt.Errorf("%w: %w", errDial, err)
	}

	if _, err := o.tracker.MarkDialed(ctx, attempt.ID, externalID, now); err != nil {
		// the call is already with the telephony platform; leave the attempt for its events
		return placementDialed, attempt, fmt.Errorf("%w: mark dialed: %w", errDial, err)
	}
	attempt.ExternalCallID = externalID
	attempt.State = domain.AttemptDialing
	return placementDialed, attempt, nil
}

func (o *Orchestrator) failAttempt(ctx context.Context, attempt *domain.CallAttempt, outcome domain.OutcomeCode, now time.Time) {
	if _, err := o.tracker.Fail(ctx, attempt.ID, now, outcome); err != nil {
		o.logger.Error("orchestrator: fail attempt", zap.Error(err),
			zap.String("attempt_id", attempt.ID.String()), zap.String("outcome", string(outcome)))
	}
}

// countFailure classifies a per-candidate error. Eligibility misses and lost claims are
// expected and only logged at debug.
func (o *Orchestrator) countFailure(campaign *domain.Campaign, lead *domain.Lead, err error, sum *Summary) {
	if err == nil {
		return
	}
	fields := []zap.Field{zap.Error(err), zap.String("campaign_id", campaign.ID.String()), zap.String("lead_id", lead.ID.String())}
	if errors.Is(err, apperrors.ErrConflict) {
		o.logger.Debug("orchestrator: candidate skipped", fields...)
		return
	}
	sum.Errors++
	metrics.CandidateErrorsTotal.WithLabelValues(stageOf(err)).Inc()
	o.logger.Warn("orchestrator: candidate failed", fields...)
}

func stageOf(err error) string {
	switch {
	case errors.Is(err, errCompliance):
		return "compliance"
	case errors.Is(err, errInvalidNumber):
		return "phone"
	case errors.Is(err, errDial):
		return "dial"
	case errors.Is(err, errQueue):
		return "queue"
	default:
		return "attempt"
	}
}

// excludableStatuses covers every lead a cycle or a manual dial can screen; queued leads
// are re-checked when an agent dials them.
var excludableStatuses = append(append([]domain.LeadStatus{}, domain.SelectableLeadStatuses...), domain.LeadStatusQueued)

func (o *Orchestrator) exclude(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, res compliance.Result, sum *Summary) {
	if res.Reason != compliance.ReasonDncListed {
		// already excluded leads need no update
		return
	}
	reason := domain.ExclusionDNC
	excluded, err := o.leads.Exclude(ctx, lead.ID, excludableStatuses, reason)
	if err != nil {
		sum.Errors++
		o.logger.Error("orchestrator: exclude lead", zap.Error(err), zap.String("lead_id", lead.ID.String()))
		return
	}
	if !excluded {
		return
	}
	sum.LeadsExcluded++
	metrics.LeadsExcludedTotal.WithLabelValues(string(res.Reason)).Inc()
	o.logger.Info("orchestrator: lead excluded",
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("lead_id", lead.ID.String()),
		zap.String("reason", reason),
	)
	if o.stats != nil {
		if err := o.stats.ApplyDelta(ctx, campaign.ID, repository.StatsDelta{Excluded: 1}); err != nil {
			o.logger.Warn("orchestrator: stats update failed", zap.Error(err), zap.String("campaign_id", campaign.ID.String()))
		}
	}
}

func (o *Orchestrator) releaseAgent(ctx context.Context, agentID uuid.UUID) {
	if err := o.pool.Release(ctx, agentID); err != nil {
		o.logger.Warn("orchestrator: release agent", zap.Error(err), zap.String("agent_id", agentID.String()))
	}
}
