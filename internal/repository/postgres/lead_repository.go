package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

const leadColumns = `id, list_id, primary_phone, status, priority, attempt_count, recycle_count,
	last_attempt_at, next_eligible_at, is_excluded, exclusion_reason, time_zone, created_at, updated_at`

// LeadRepository implements repository.LeadRepository. Status changes are single
// conditional UPDATEs so concurrent cycles cannot claim the same lead.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Get fetches a lead by id.
func (r *LeadRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	var rec leadRecord
	if err := r.db.QueryRowxContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("lead repo: get: %w", err)
	}
	return rec.toDomain()
}

// ListCandidates returns one keyset page of dialable leads. The cursor compares the row
// (-priority, last_attempt_at with NULL as -infinity, created_at, id), which matches the ORDER BY.
func (r *LeadRepository) ListCandidates(ctx context.Context, q repository.CandidateQuery) ([]*domain.Lead, error) {
	if len(q.ListIDs) == 0 || len(q.Statuses) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + leadColumns + ` FROM leads
		WHERE list_id = ANY($1) AND status = ANY($2::text[]) AND NOT is_excluded
		  AND (next_eligible_at IS NULL OR next_eligible_at <= $3)`)
	args := []any{q.ListIDs, toStrings(q.Statuses), q.Now}

	if q.MaxAttempts > 0 {
		args = append(args, q.MaxAttempts)
		b.WriteString(` AND attempt_count < $` + strconv.Itoa(len(args)))
	}
	if c := q.After; c != nil {
		args = append(args, -c.Priority, c.LastAttemptAt, c.CreatedAt, c.ID)
		n := len(args)
		fmt.Fprintf(&b, ` AND (-priority, COALESCE(last_attempt_at, '-infinity'::timestamptz), created_at, id)
			> ($%d::int, COALESCE($%d::timestamptz, '-infinity'::timestamptz), $%d::timestamptz, $%d::uuid)`, n-3, n-2, n-1, n)
	}
	args = append(args, limit)
	b.WriteString(` ORDER BY priority DESC, last_attempt_at ASC NULLS FIRST, created_at ASC, id ASC LIMIT $` + strconv.Itoa(len(args)))

	var records []leadRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, b.String(), args...); err != nil {
		return nil, fmt.Errorf("lead repo: list candidates: %w", err)
	}
	return toLeads(records)
}

// ListByStatus pages leads in the given lists ordered by created_at, id.
func (r *LeadRepository) ListByStatus(ctx context.Context, q repository.StatusQuery) ([]*domain.Lead, error) {
	if len(q.ListIDs) == 0 || len(q.Statuses) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + leadColumns + ` FROM leads WHERE list_id = ANY($1) AND status = ANY($2::text[])`
	args := []any{q.ListIDs, toStrings(q.Statuses)}
	if q.AfterID != nil {
		query += ` AND (created_at, id) > ($3, $4) ORDER BY created_at ASC, id ASC LIMIT $5`
		args = append(args, q.AfterTime, *q.AfterID, limit)
	} else {
		query += ` ORDER BY created_at ASC, id ASC LIMIT $3`
		args = append(args, limit)
	}

	var records []leadRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, query, args...); err != nil {
		return nil, fmt.Errorf("lead repo: list by status: %w", err)
	}
	return toLeads(records)
}

// Claim moves a lead from one of the given statuses to status.
func (r *LeadRepository) Claim(ctx context.Context, id uuid.UUID, from []domain.LeadStatus, to domain.LeadStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2::text[]) AND NOT is_excluded`, id, toStrings(from), string(to))
	if err != nil {
		return false, fmt.Errorf("lead repo: claim: %w", err)
	}
	return r.applied(ctx, res, id)
}

// Exclude permanently removes a lead from selection.
func (r *LeadRepository) Exclude(ctx context.Context, id uuid.UUID, from []domain.LeadStatus, reason string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = 'excluded', is_excluded = TRUE, exclusion_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2::text[]) AND NOT is_excluded`, id, toStrings(from), reason)
	if err != nil {
		return false, fmt.Errorf("lead repo: exclude: %w", err)
	}
	return r.applied(ctx, res, id)
}

// Recycle resets attempts and returns the lead to new.
func (r *LeadRepository) Recycle(ctx context.Context, id uuid.UUID, from domain.LeadStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE leads SET status = 'new', recycle_count = recycle_count + 1,
			attempt_count = 0, last_attempt_at = NULL, next_eligible_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND NOT is_excluded`, id, string(from))
	if err != nil {
		return false, fmt.Errorf("lead repo: recycle: %w", err)
	}
	return r.applied(ctx, res, id)
}

func (r *LeadRepository) applied(ctx context.Context, res sql.Result, id uuid.UUID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lead repo: rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	ok, err := rowExists(ctx, r.db, "leads", id)
	if err != nil {
		return false, fmt.Errorf("lead repo: exists: %w", err)
	}
	if !ok {
		return false, repository.ErrNotFound
	}
	return false, nil
}

type leadRecord struct {
	ID              uuid.UUID  `db:"id"`
	ListID          uuid.UUID  `db:"list_id"`
	PrimaryPhone    string     `db:"primary_phone"`
	Status          string     `db:"status"`
	Priority        int        `db:"priority"`
	AttemptCount    int        `db:"attempt_count"`
	RecycleCount    int        `db:"recycle_count"`
	LastAttemptAt   *time.Time `db:"last_attempt_at"`
	NextEligibleAt  *time.Time `db:"next_eligible_at"`
	IsExcluded      bool       `db:"is_excluded"`
	ExclusionReason string     `db:"exclusion_reason"`
	TimeZone        string     `db:"time_zone"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func (r leadRecord) toDomain() (*domain.Lead, error) {
	status, err := domain.ParseLeadStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("lead repo: lead %s: %w", r.ID, err)
	}
	return &domain.Lead{
		ID:              r.ID,
		ListID:          r.ListID,
		PrimaryPhone:    r.PrimaryPhone,
		Status:          status,
		Priority:        r.Priority,
		AttemptCount:    r.AttemptCount,
		RecycleCount:    r.RecycleCount,
		LastAttemptAt:   utcPtr(r.LastAttemptAt),
		NextEligibleAt:  utcPtr(r.NextEligibleAt),
		IsExcluded:      r.IsExcluded,
		ExclusionReason: r.ExclusionReason,
		TimeZone:        r.TimeZone,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}, nil
}

func toLeads(records []leadRecord) ([]*domain.Lead, error) {
	out := make([]*domain.Lead, 0, len(records))
	for _, rec := range records {
		lead, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
