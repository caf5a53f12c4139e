package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/internal/service/lifecycle"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	"github.com/acme/campaign-dialer/pkg/logger"
)

const releaseBatchSize = 200

// Processor runs a guarded cycle for one campaign.
type Processor interface {
	Process(ctx context.Context, campaignID uuid.UUID) (orchestrator.Summary, error)
}

// Dependencies wires the control service.
type Dependencies struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Attempts  repository.AttemptRepository
	Stats     repository.CampaignStatisticsRepository
	Journal   repository.AttemptJournal
	Tracker   *lifecycle.Tracker
	Processor Processor
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Service is the campaign control surface: start, pause, stop, and on-demand processing.
type Service struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	attempts  repository.AttemptRepository
	stats     repository.CampaignStatisticsRepository
	journal   repository.AttemptJournal
	tracker   *lifecycle.Tracker
	processor Processor
	logger    *logger.Logger
	clock     func() time.Time
}

// NewService constructs a campaign service.
func NewService(deps Dependencies) *Service {
	lg := deps.Logger
	if lg == nil {
		lg = logger.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		campaigns: deps.Campaigns,
		leads:     deps.Leads,
		attempts:  deps.Attempts,
		stats:     deps.Stats,
		journal:   deps.Journal,
		tracker:   deps.Tracker,
		processor: deps.Processor,
		logger:    lg.Named("campaign"),
		clock:     clock,
	}
}

// StopResult reports what stopping a campaign cleaned up.
type StopResult struct {
	AttemptsFailed int
	LeadsReleased  int
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.campaigns.Get(ctx, id)
}

// Start activates a campaign after validating its configuration. Starting an active campaign is a no-op.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.IsActive {
		return campaign, nil
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.SetActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("campaign service: start campaign: %w", err)
	}
	campaign.IsActive = true
	s.logger.Info("campaign service: campaign started", zap.String("campaign_id", id.String()))
	return campaign, nil
}

// Pause deactivates a campaign. Calls already in flight finish normally; no new attempts
// are launched from the next cycle on.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive {
		return campaign, nil
	}
	if err := s.campaigns.SetActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("campaign service: pause campaign: %w", err)
	}
	campaign.IsActive = false
	s.logger.Info("campaign service: campaign paused", zap.String("campaign_id", id.String()))
	return campaign, nil
}

// Stop deactivates a campaign, fails its non-terminal attempts with campaign_stopped, and
// returns queued leads to new. Stopping twice is safe.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (StopResult, error) {
	var result StopResult
	campaign, err := s.campaigns.Get(ctx, id)
	if err != nil {
		return result, err
	}
	if campaign.IsActive {
		if err := s.campaigns.SetActive(ctx, id, false); err != nil {
			return result, fmt.Errorf("campaign service: stop campaign: %w", err)
		}
	}

	attempts, err := s.attempts.ListNonTerminal(ctx, id)
	if err != nil {
		return result, fmt.Errorf("campaign service: list open attempts: %w", err)
	}
	now := s.clock()
	for _, attempt := range attempts {
		applied, err := s.tracker.Fail(ctx, attempt.ID, now, domain.OutcomeCampaignStopped)
		if err != nil {
			s.logger.Warn("campaign service: fail attempt", zap.Error(err),
				zap.String("campaign_id", id.String()), zap.String("attempt_id", attempt.ID.String()))
			continue
		}
		if applied {
			result.AttemptsFailed++
		}
	}

	released, err := s.releaseQueued(ctx, campaign)
	result.LeadsReleased = released
	if err != nil {
		return result, fmt.Errorf("campaign service: release queued leads: %w", err)
	}

	s.logger.Info("campaign service: campaign stopped",
		zap.String("campaign_id", id.String()),
		zap.Int("attempts_failed", result.AttemptsFailed),
		zap.Int("leads_released", result.LeadsReleased),
	)
	return result, nil
}

func (s *Service) releaseQueued(ctx context.Context, campaign *domain.Campaign) (int, error) {
	if len(campaign.ListIDs) == 0 {
		return 0, nil
	}
	released := 0
	q := repository.StatusQuery{
		ListIDs:  campaign.ListIDs,
		Statuses: []domain.LeadStatus{domain.LeadStatusQueued},
		Limit:    releaseBatchSize,
	}
	for {
		leads, err := s.leads.ListByStatus(ctx, q)
		if err != nil {
			return released, err
		}
		for _, lead := range leads {
			ok, err := s.leads.Claim(ctx, lead.ID, []domain.LeadStatus{domain.LeadStatusQueued}, domain.LeadStatusNew)
			if err != nil {
				return released, err
			}
			if ok {
				released++
			}
		}
		if len(leads) < releaseBatchSize {
			return released, nil
		}
		last := leads[len(leads)-1]
		q.AfterID = &last.ID
		q.AfterTime = last.CreatedAt
	}
}

// ProcessNow runs a cycle immediately. It returns ErrCycleInProgress when a cycle for the
// campaign is already running.
func (s *Service) ProcessNow(ctx context.Context, id uuid.UUID) (orchestrator.Summary, error) {
	if _, err := s.campaigns.Get(ctx, id); err != nil {
		return orchestrator.Summary{CampaignID: id}, err
	}
	return s.processor.Process(ctx, id)
}

// Stats retrieves aggregated statistics.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	if _, err := s.campaigns.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.stats.Get(ctx, id)
}

// Attempt retrieves a single call attempt.
func (s *Service) Attempt(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	return s.attempts.Get(ctx, id)
}

// History pages the attempt journal of a campaign.
func (s *Service) History(ctx context.Context, id uuid.UUID, limit int, pageState []byte) ([]domain.AttemptEvent, []byte, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, next, err := s.journal.ListByCampaign(ctx, id, limit, pageState)
	if err != nil {
		return nil, nil, fmt.Errorf("campaign service: list attempt history: %w", err)
	}
	return events, next, nil
}
