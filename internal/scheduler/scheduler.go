// Package scheduler keeps one cycle loop running per active campaign.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/service/orchestrator"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// CampaignLister lists campaigns that should be dialing.
type CampaignLister interface {
	ListActive(ctx context.Context, limit int) ([]*domain.Campaign, error)
}

// Processor runs one guarded cycle for a campaign.
type Processor interface {
	Process(ctx context.Context, campaignID uuid.UUID) (orchestrator.Summary, error)
}

// Scheduler reconciles the set of cycle loops against the active campaigns.
type Scheduler struct {
	campaigns         CampaignLister
	processor         Processor
	logger            *logger.Logger
	cycleInterval     time.Duration
	reconcileInterval time.Duration
	fetchLimit        int

	mu    sync.Mutex
	loops map[uuid.UUID]context.CancelFunc
	wg    sync.WaitGroup
}

// New constructs a scheduler.
func New(campaigns CampaignLister, processor Processor, cfg config.SchedulerConfig, lg *logger.Logger) *Scheduler {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 15 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.CampaignFetchLimit <= 0 {
		cfg.CampaignFetchLimit = 500
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Scheduler{
		campaigns:         campaigns,
		processor:         processor,
		logger:            lg.Named("scheduler"),
		cycleInterval:     cfg.CycleInterval,
		reconcileInterval: cfg.ReconcileInterval,
		fetchLimit:        cfg.CampaignFetchLimit,
		loops:             make(map[uuid.UUID]context.CancelFunc),
	}
}

// Run reconciles until cancelled, then stops every loop and waits for cycles in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()
	defer s.stopAll()

	for {
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler: reconcile failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile starts loops for newly active campaigns and stops loops for campaigns that
// were paused, stopped, or removed.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	ctx, span := otel.Tracer("dialer.scheduler").Start(ctx, "scheduler.reconcile")
	defer span.End()

	active, err := s.campaigns.ListActive(ctx, s.fetchLimit)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("campaign.count", len(active)))

	want := make(map[uuid.UUID]struct{}, len(active))
	for _, c := range active {
		want[c.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.loops {
		if _, ok := want[id]; !ok {
			cancel()
			delete(s.loops, id)
			s.logger.Info("scheduler: campaign loop stopped", zap.String("campaign_id", id.String()))
		}
	}
	for id := range want {
		if _, ok := s.loops[id]; ok {
			continue
		}
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.loops[id] = cancel
		s.wg.Go(func() { s.loop(loopCtx, id) })
		s.logger.Info("scheduler: campaign loop started", zap.String("campaign_id", id.String()))
	}
	return nil
}

// Running returns the campaigns that currently have a loop.
func (s *Scheduler) Running() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) loop(ctx context.Context, campaignID uuid.UUID) {
	ticker := time.NewTicker(s.cycleInterval)
	defer ticker.Stop()
	lg := s.logger.ForCampaign(campaignID)

	for {
		sum, err := s.processor.Process(ctx, campaignID)
		switch {
		case err == nil:
			if sum.AttemptsCreated > 0 || sum.LeadsQueued > 0 || sum.Errors > 0 {
				lg.Info("scheduler: cycle complete",
					zap.String("strategy", string(sum.Strategy)),
					zap.Int("attempts_created", sum.AttemptsCreated),
					zap.Int("leads_queued", sum.LeadsQueued),
					zap.Int("leads_excluded", sum.LeadsExcluded),
					zap.Int("errors", sum.Errors))
			}
		case errors.Is(err, apperrors.ErrCycleInProgress):
			lg.Debug("scheduler: cycle already running elsewhere")
		case ctx.Err() != nil:
			return
		default:
			lg.Error("scheduler: cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	for id, cancel := range s.loops {
		cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
