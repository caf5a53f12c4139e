package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

const attemptColumns = `id, campaign_id, lead_id, agent_id, external_call_id, state,
	started_at, answered_at, ended_at, outcome_code, duration_seconds`

// AttemptRepository implements repository.AttemptRepository. The partial unique index on
// open attempts per lead backs the lead claim.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository constructs the repository.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Create claims the lead and inserts the attempt in one transaction.
func (r *AttemptRepository) Create(ctx context.Context, attempt *domain.CallAttempt, claimFrom []domain.LeadStatus) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE leads SET status = 'in_progress', attempt_count = attempt_count + 1, updated_at = NOW()
			WHERE id = $1 AND status = ANY($2::text[]) AND NOT is_excluded`, attempt.LeadID, toStrings(claimFrom))
		if err != nil {
			return fmt.Errorf("attempt repo: claim lead: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("attempt repo: rows affected: %w", err)
		}
		if n == 0 {
			ok, err := rowExists(ctx, tx, "leads", attempt.LeadID)
			if err != nil {
				return fmt.Errorf("attempt repo: lead exists: %w", err)
			}
			if !ok {
				return repository.ErrNotFound
			}
			return repository.ErrConflict
		}

		if _, err := tx.NamedExecContext(ctx, `INSERT INTO call_attempts (`+attemptColumns+`) VALUES (
			:id, :campaign_id, :lead_id, :agent_id, :external_call_id, :state,
			:started_at, :answered_at, :ended_at, :outcome_code, :duration_seconds
		)`, newAttemptRecord(attempt)); err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConflict
			}
			return fmt.Errorf("attempt repo: insert: %w", err)
		}
		return nil
	})
}

// Get fetches an attempt by id.
func (r *AttemptRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE id = $1`, id)
}

// GetByExternalID resolves the telephony platform's call id.
func (r *AttemptRepository) GetByExternalID(ctx context.Context, externalCallID string) (*domain.CallAttempt, error) {
	return r.getOne(ctx, `SELECT `+attemptColumns+` FROM call_attempts WHERE external_call_id = $1`, externalCallID)
}

func (r *AttemptRepository) getOne(ctx context.Context, query string, arg any) (*domain.CallAttempt, error) {
	var rec attemptRecord
	if err := r.db.QueryRowxContext(ctx, query, arg).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("attempt repo: get: %w", err)
	}
	return rec.toDomain()
}

// ListNonTerminal returns the open attempts of a campaign.
func (r *AttemptRepository) ListNonTerminal(ctx context.Context, campaignID uuid.UUID) ([]*domain.CallAttempt, error) {
	var records []attemptRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, `SELECT `+attemptColumns+` FROM call_attempts
		WHERE campaign_id = $1 AND state = ANY($2::text[])
		ORDER BY started_at ASC`, campaignID, toStrings(domain.NonTerminalAttemptStates)); err != nil {
		return nil, fmt.Errorf("attempt repo: list open: %w", err)
	}
	out := make([]*domain.CallAttempt, 0, len(records))
	for _, rec := range records {
		attempt, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, attempt)
	}
	return out, nil
}

// Transition applies a conditional state change with its lead and agent side effects.
// It reports false when the attempt was no longer in one of t.From.
func (r *AttemptRepository) Transition(ctx context.Context, t repository.Transition) (bool, error) {
	applied := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var leadID uuid.UUID
		err := tx.QueryRowxContext(ctx, `UPDATE call_attempts SET
				state = $2,
				external_call_id = COALESCE(NULLIF($3, ''), external_call_id),
				agent_id = COALESCE($4, agent_id),
				answered_at = COALESCE($5, answered_at),
				ended_at = COALESCE($6, ended_at),
				outcome_code = COALESCE(NULLIF($7, ''), outcome_code),
				duration_seconds = CASE WHEN $8 > 0 THEN $8 ELSE duration_seconds END
			WHERE id = $1 AND state = ANY($9::text[])
			RETURNING lead_id`,
			t.AttemptID, string(t.To), t.ExternalCallID, t.AgentID, t.AnsweredAt, t.EndedAt,
			string(t.OutcomeCode), t.DurationSeconds, toStrings(t.From),
		).Scan(&leadID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			ok, err := rowExists(ctx, tx, "call_attempts", t.AttemptID)
			if err != nil {
				return fmt.Errorf("attempt repo: exists: %w", err)
			}
			if !ok {
				return repository.ErrNotFound
			}
			return nil
		case isUniqueViolation(err):
			return repository.ErrConflict
		case err != nil:
			return fmt.Errorf("attempt repo: transition: %w", err)
		}
		applied = true

		if u := t.Lead; u != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE leads SET
					status = $2,
					last_attempt_at = $3,
					next_eligible_at = $4,
					is_excluded = is_excluded OR $2 = 'excluded',
					exclusion_reason = CASE WHEN $2 = 'excluded' THEN $5 ELSE exclusion_reason END,
					updated_at = NOW()
				WHERE id = $1 AND status = 'in_progress'`,
				leadID, string(u.Status), u.LastAttemptAt, u.NextEligibleAt, u.ExclusionReason); err != nil {
				return fmt.Errorf("attempt repo: update lead: %w", err)
			}
		}
		if t.ReleaseAgentID != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE agents SET availability = 'available', updated_at = NOW()
				WHERE id = $1 AND availability = 'busy'`, *t.ReleaseAgentID); err != nil {
				return fmt.Errorf("attempt repo: release agent: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

type attemptRecord struct {
	ID              uuid.UUID      `db:"id"`
	CampaignID      uuid.UUID      `db:"campaign_id"`
	LeadID          uuid.UUID      `db:"lead_id"`
	AgentID         *uuid.UUID     `db:"agent_id"`
	ExternalCallID  sql.NullString `db:"external_call_id"`
	State           string         `db:"state"`
	StartedAt       time.Time      `db:"started_at"`
	AnsweredAt      *time.Time     `db:"answered_at"`
	EndedAt         *time.Time     `db:"ended_at"`
	OutcomeCode     string         `db:"outcome_code"`
	DurationSeconds int            `db:"duration_seconds"`
}

func newAttemptRecord(a *domain.CallAttempt) attemptRecord {
	return attemptRecord{
		ID:              a.ID,
		CampaignID:      a.CampaignID,
		LeadID:          a.LeadID,
		AgentID:         a.AgentID,
		ExternalCallID:  sql.NullString{String: a.ExternalCallID, Valid: a.ExternalCallID != ""},
		State:           string(a.State),
		StartedAt:       a.StartedAt,
		AnsweredAt:      a.AnsweredAt,
		EndedAt:         a.EndedAt,
		OutcomeCode:     string(a.OutcomeCode),
		DurationSeconds: a.DurationSeconds,
	}
}

func (r attemptRecord) toDomain() (*domain.CallAttempt, error) {
	state, err := domain.ParseAttemptState(r.State)
	if err != nil {
		return nil, fmt.Errorf("attempt repo: attempt %s: %w", r.ID, err)
	}
	return &domain.CallAttempt{
		ID:              r.ID,
		CampaignID:      r.CampaignID,
		LeadID:          r.LeadID,
		AgentID:         r.AgentID,
		ExternalCallID:  r.ExternalCallID.String,
		State:           state,
		StartedAt:       r.StartedAt.UTC(),
		AnsweredAt:      utcPtr(r.AnsweredAt),
		EndedAt:         utcPtr(r.EndedAt),
		OutcomeCode:     domain.OutcomeCode(r.OutcomeCode),
		DurationSeconds: r.DurationSeconds,
	}, nil
}
