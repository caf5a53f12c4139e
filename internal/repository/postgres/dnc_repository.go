package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/pkg/phone"
)

// DncRepository implements repository.DncRepository. Numbers are stored normalized.
type DncRepository struct {
	db     *sqlx.DB
	region string
}

// NewDncRepository constructs the repository. region resolves numbers written without a
// country prefix.
func NewDncRepository(db *sqlx.DB, region string) *DncRepository {
	return &DncRepository{db: db, region: region}
}

// Lookup returns every entry for the given numbers.
func (r *DncRepository) Lookup(ctx context.Context, numbers []string) ([]domain.DncEntry, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	var records []dncRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, `SELECT phone_number, scope, scope_id, expires_at
		FROM dnc_entries WHERE phone_number = ANY($1::text[])`, numbers); err != nil {
		return nil, fmt.Errorf("dnc repo: lookup: %w", err)
	}
	out := make([]domain.DncEntry, 0, len(records))
	for _, rec := range records {
		scope, err := domain.ParseDncScope(rec.Scope)
		if err != nil {
			return nil, fmt.Errorf("dnc repo: %w", err)
		}
		out = append(out, domain.DncEntry{
			PhoneNumber: rec.PhoneNumber,
			Scope:       scope,
			ScopeID:     rec.ScopeID,
			ExpiresAt:   utcPtr(rec.ExpiresAt),
		})
	}
	return out, nil
}

// IsListed reports whether an unexpired global entry, or one in the given scope, covers number.
func (r *DncRepository) IsListed(ctx context.Context, number string, scope domain.DncScope, scopeID *uuid.UUID, now time.Time) (bool, error) {
	var listed bool
	if err := sqlx.GetContext(ctx, r.db, &listed, `SELECT EXISTS (
		SELECT 1 FROM dnc_entries
		WHERE phone_number = $1
		  AND (expires_at IS NULL OR expires_at > $4)
		  AND (scope = 'global' OR (scope = $2 AND scope_id IS NOT NULL AND scope_id = $3))
	)`, phone.Canonical(number, r.region), string(scope), scopeID, now); err != nil {
		return false, fmt.Errorf("dnc repo: is listed: %w", err)
	}
	return listed, nil
}

// Add stores an entry.
func (r *DncRepository) Add(ctx context.Context, entry domain.DncEntry) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO dnc_entries (phone_number, scope, scope_id, expires_at)
		VALUES (:phone_number, :scope, :scope_id, :expires_at)`, newDncRecord(entry, r.region))
	if err != nil {
		return fmt.Errorf("dnc repo: add: %w", err)
	}
	return nil
}

func newDncRecord(entry domain.DncEntry, region string) dncRecord {
	return dncRecord{
		PhoneNumber: phone.Canonical(entry.PhoneNumber, region),
		Scope:       string(entry.Scope),
		ScopeID:     entry.ScopeID,
		ExpiresAt:   entry.ExpiresAt,
	}
}

type dncRecord struct {
	PhoneNumber string     `db:"phone_number"`
	Scope       string     `db:"scope"`
	ScopeID     *uuid.UUID `db:"scope_id"`
	ExpiresAt   *time.Time `db:"expires_at"`
}
