// Package recycling returns exhausted leads to the dialable pool, or retires them.
package recycling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/metrics"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/pkg/logger"
)

const defaultBatchSize = 200

// Summary reports what one recycling pass did.
type Summary struct {
	Campaigns int
	Examined  int
	Recycled  int
	Excluded  int
	Errors    int
}

// Manager runs recycling passes across all campaigns.
type Manager struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	stats     repository.CampaignStatisticsRepository
	logger    *logger.Logger
	batchSize int
}

// NewManager constructs a recycling manager.
func NewManager(campaigns repository.CampaignRepository, leads repository.LeadRepository, stats repository.CampaignStatisticsRepository, lg *logger.Logger, batchSize int) *Manager {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &Manager{campaigns: campaigns, leads: leads, stats: stats, logger: lg.Named("recycling"), batchSize: batchSize}
}

// Run performs one pass. Per-lead failures are counted and logged; listing failures
// abort only the affected campaign.
func (m *Manager) Run(ctx context.Context, now time.Time) (Summary, error) {
	var summary Summary
	var after *uuid.UUID
	for {
		campaigns, err := m.campaigns.List(ctx, after, m.batchSize)
		if err != nil {
			return summary, fmt.Errorf("recycling: list campaigns: %w", err)
		}
		for _, campaign := range campaigns {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Campaigns++
			if err := m.runCampaign(ctx, campaign, now, &summary); err != nil {
				summary.Errors++
				m.logger.Error("recycling: campaign pass failed", zap.Error(err), zap.String("campaign_id", campaign.ID.String()))
			}
		}
		if len(campaigns) < m.batchSize {
			return summary, nil
		}
		last := campaigns[len(campaigns)-1].ID
		after = &last
	}
}

func (m *Manager) runCampaign(ctx context.Context, campaign *domain.Campaign, now time.Time, summary *Summary) error {
	if len(campaign.ListIDs) == 0 {
		return nil
	}
	q := repository.StatusQuery{
		ListIDs:  campaign.ListIDs,
		Statuses: domain.RecyclableLeadStatuses,
		Limit:    m.batchSize,
	}
	var delta repository.StatsDelta
	defer func() {
		if m.stats == nil || delta.IsZero() {
			return
		}
		if err := m.stats.ApplyDelta(ctx, campaign.ID, delta); err != nil {
			m.logger.Warn("recycling: stats update failed", zap.Error(err), zap.String("campaign_id", campaign.ID.String()))
		}
	}()

	for {
		leads, err := m.leads.ListByStatus(ctx, q)
		if err != nil {
			return fmt.Errorf("list leads: %w", err)
		}
		for _, lead := range leads {
			summary.Examined++
			action, err := m.process(ctx, campaign, lead, now)
			if err != nil {
				summary.Errors++
				m.logger.Warn("recycling: lead update failed", zap.Error(err),
					zap.String("campaign_id", campaign.ID.String()), zap.String("lead_id", lead.ID.String()))
				continue
			}
			switch action {
			case actionRecycled:
				summary.Recycled++
				delta.Recycled++
				metrics.LeadsRecycledTotal.Inc()
			case actionExcluded:
				summary.Excluded++
				delta.Excluded++
			}
		}
		if len(leads) < m.batchSize {
			return nil
		}
		last := leads[len(leads)-1]
		q.AfterID = &last.ID
		q.AfterTime = last.CreatedAt
	}
}

type action int

const (
	actionNone action = iota
	actionRecycled
	actionExcluded
)

func (m *Manager) process(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, now time.Time) (action, error) {
	policy := campaign.AutoRecycle
	if !policy.Enabled {
		if lead.AttemptCount < campaign.MaxAttemptsPerLead {
			return actionNone, nil
		}
		return m.exclude(ctx, lead, domain.ExclusionMaxAttempts)
	}

	if lead.LastAttemptAt != nil && now.Sub(*lead.LastAttemptAt) < policy.Cooldown() {
		return actionNone, nil
	}
	if lead.RecycleCount >= policy.MaxRecycleCount {
		return m.exclude(ctx, lead, domain.ExclusionRecycleLimit)
	}

	ok, err := m.leads.Recycle(ctx, lead.ID, lead.Status)
	if err != nil {
		return actionNone, err
	}
	if !ok {
		return actionNone, nil
	}
	m.logger.Debug("recycling: lead recycled", zap.String("lead_id", lead.ID.String()), zap.Int("recycle_count", lead.RecycleCount+1))
	return actionRecycled, nil
}

func (m *Manager) exclude(ctx context.Context, lead *domain.Lead, reason string) (action, error) {
	ok, err := m.leads.Exclude(ctx, lead.ID, []domain.LeadStatus{lead.Status}, reason)
	if err != nil {
		return actionNone, err
	}
	if !ok {
		return actionNone, nil
	}
	metrics.LeadsExcludedTotal.WithLabelValues(reason).Inc()
	m.logger.Info("recycling: lead excluded", zap.String("lead_id", lead.ID.String()), zap.String("reason", reason))
	return actionExcluded, nil
}
