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

// AgentRepository implements repository.AgentRepository.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs the repository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Get fetches an agent with its campaign assignments.
func (r *AgentRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error) {
	var rec agentRecord
	if err := r.db.QueryRowxContext(ctx, `SELECT id, name, availability FROM agents WHERE id = $1`, id).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("agent repo: get: %w", err)
	}
	agents, err := r.hydrate(ctx, []agentRecord{rec})
	if err != nil {
		return nil, err
	}
	return agents[0], nil
}

// ListAvailable returns available agents assigned to the campaign.
func (r *AgentRepository) ListAvailable(ctx context.Context, campaignID uuid.UUID) ([]*domain.Agent, error) {
	var records []agentRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, `SELECT a.id, a.name, a.availability
		FROM agents a
		JOIN agent_campaigns ac ON ac.agent_id = a.id
		WHERE ac.campaign_id = $1 AND a.availability = 'available'
		ORDER BY a.id ASC`, campaignID); err != nil {
		return nil, fmt.Errorf("agent repo: list available: %w", err)
	}
	return r.hydrate(ctx, records)
}

// SetAvailability moves the agent from one state to another.
func (r *AgentRepository) SetAvailability(ctx context.Context, id uuid.UUID, from, to domain.AgentAvailability) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE agents SET availability = $3, updated_at = NOW()
		WHERE id = $1 AND availability = $2`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("agent repo: set availability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("agent repo: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	ok, err := rowExists(ctx, r.db, "agents", id)
	if err != nil {
		return false, fmt.Errorf("agent repo: exists: %w", err)
	}
	if !ok {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (r *AgentRepository) hydrate(ctx context.Context, records []agentRecord) ([]*domain.Agent, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	var links []struct {
		AgentID    uuid.UUID `db:"agent_id"`
		CampaignID uuid.UUID `db:"campaign_id"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &links, `SELECT agent_id, campaign_id FROM agent_campaigns
		WHERE agent_id = ANY($1) ORDER BY agent_id, campaign_id`, ids); err != nil {
		return nil, fmt.Errorf("agent repo: list campaigns: %w", err)
	}
	campaigns := make(map[uuid.UUID][]uuid.UUID, len(records))
	for _, link := range links {
		campaigns[link.AgentID] = append(campaigns[link.AgentID], link.CampaignID)
	}

	out := make([]*domain.Agent, 0, len(records))
	for _, rec := range records {
		availability, err := domain.ParseAgentAvailability(rec.Availability)
		if err != nil {
			return nil, fmt.Errorf("agent repo: agent %s: %w", rec.ID, err)
		}
		out = append(out, &domain.Agent{
			ID:           rec.ID,
			Name:         rec.Name,
			Availability: availability,
			CampaignIDs:  campaigns[rec.ID],
		})
	}
	return out, nil
}

type agentRecord struct {
	ID           uuid.UUID `db:"id"`
	Name         string    `db:"name"`
	Availability string    `db:"availability"`
}
