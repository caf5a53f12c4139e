package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Get retrieves statistics. A campaign without counters yet reports zeros.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	var rec statsRecord
	err := r.db.QueryRowxContext(ctx, `SELECT attempts_created, connected, contacted, no_answer, failed, excluded, recycled
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID).StructScan(&rec)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.CampaignStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}
	stats := domain.CampaignStats(rec)
	return &stats, nil
}

// ApplyDelta applies counter deltas atomically, creating the row on first use.
func (r *CampaignStatisticsRepository) ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta repository.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO campaign_statistics (
		campaign_id, attempts_created, connected, contacted, no_answer, failed, excluded, recycled
	) VALUES (
		:campaign_id, :attempts_created, :connected, :contacted, :no_answer, :failed, :excluded, :recycled
	) ON CONFLICT (campaign_id) DO UPDATE SET
		attempts_created = campaign_statistics.attempts_created + EXCLUDED.attempts_created,
		connected = campaign_statistics.connected + EXCLUDED.connected,
		contacted = campaign_statistics.contacted + EXCLUDED.contacted,
		no_answer = campaign_statistics.no_answer + EXCLUDED.no_answer,
		failed = campaign_statistics.failed + EXCLUDED.failed,
		excluded = campaign_statistics.excluded + EXCLUDED.excluded,
		recycled = campaign_statistics.recycled + EXCLUDED.recycled,
		updated_at = NOW()`, map[string]any{
		"campaign_id":      campaignID,
		"attempts_created": delta.AttemptsCreated,
		"connected":        delta.Connected,
		"contacted":        delta.Contacted,
		"no_answer":        delta.NoAnswer,
		"failed":           delta.Failed,
		"excluded":         delta.Excluded,
		"recycled":         delta.Recycled,
	})
	if err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}

type statsRecord struct {
	AttemptsCreated int64 `db:"attempts_created"`
	Connected       int64 `db:"connected"`
	Contacted       int64 `db:"contacted"`
	NoAnswer        int64 `db:"no_answer"`
	Failed          int64 `db:"failed"`
	Excluded        int64 `db:"excluded"`
	Recycled        int64 `db:"recycled"`
}
