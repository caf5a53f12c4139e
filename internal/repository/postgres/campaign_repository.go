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

const campaignColumns = `id, name, strategy, dialing_ratio, is_active,
	window_start_minute, window_end_minute, window_weekdays, window_time_zone, window_time_zone_policy,
	min_call_interval_minutes, max_attempts_per_lead,
	recycle_enabled, recycle_max_count, recycle_cooldown_hours,
	caller_id, created_at, updated_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Save inserts or replaces a campaign and its list assignments.
func (r *CampaignRepository) Save(ctx context.Context, campaign *domain.Campaign) error {
	q := `INSERT INTO campaigns (` + campaignColumns + `) VALUES (
		:id, :name, :strategy, :dialing_ratio, :is_active,
		:window_start_minute, :window_end_minute, :window_weekdays, :window_time_zone, :window_time_zone_policy,
		:min_call_interval_minutes, :max_attempts_per_lead,
		:recycle_enabled, :recycle_max_count, :recycle_cooldown_hours,
		:caller_id, :created_at, :updated_at
	) ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		strategy = EXCLUDED.strategy,
		dialing_ratio = EXCLUDED.dialing_ratio,
		is_active = EXCLUDED.is_active,
		window_start_minute = EXCLUDED.window_start_minute,
		window_end_minute = EXCLUDED.window_end_minute,
		window_weekdays = EXCLUDED.window_weekdays,
		window_time_zone = EXCLUDED.window_time_zone,
		window_time_zone_policy = EXCLUDED.window_time_zone_policy,
		min_call_interval_minutes = EXCLUDED.min_call_interval_minutes,
		max_attempts_per_lead = EXCLUDED.max_attempts_per_lead,
		recycle_enabled = EXCLUDED.recycle_enabled,
		recycle_max_count = EXCLUDED.recycle_max_count,
		recycle_cooldown_hours = EXCLUDED.recycle_cooldown_hours,
		caller_id = EXCLUDED.caller_id,
		updated_at = EXCLUDED.updated_at`

	record := newCampaignRecord(campaign)
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, record); err != nil {
			return fmt.Errorf("campaign repo: save: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_lists WHERE campaign_id = $1`, campaign.ID); err != nil {
			return fmt.Errorf("campaign repo: clear lists: %w", err)
		}
		for _, listID := range campaign.ListIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO campaign_lists (campaign_id, list_id) VALUES ($1, $2)`, campaign.ID, listID); err != nil {
				return fmt.Errorf("campaign repo: save list: %w", err)
			}
		}
		return nil
	})
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	var record campaignRecord
	if err := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id).StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}
	campaigns, err := r.hydrate(ctx, []campaignRecord{record})
	if err != nil {
		return nil, err
	}
	return campaigns[0], nil
}

// List returns campaigns ordered by id after afterID.
func (r *CampaignRepository) List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []campaignRecord
	var err error
	if afterID != nil {
		err = sqlx.SelectContext(ctx, r.db, &records, `SELECT `+campaignColumns+`
			FROM campaigns WHERE id > $1 ORDER BY id ASC LIMIT $2`, *afterID, limit)
	} else {
		err = sqlx.SelectContext(ctx, r.db, &records, `SELECT `+campaignColumns+`
			FROM campaigns ORDER BY id ASC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	return r.hydrate(ctx, records)
}

// ListActive returns active campaigns.
func (r *CampaignRepository) ListActive(ctx context.Context, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []campaignRecord
	if err := sqlx.SelectContext(ctx, r.db, &records, `SELECT `+campaignColumns+`
		FROM campaigns WHERE is_active ORDER BY id ASC LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("campaign repo: list active: %w", err)
	}
	return r.hydrate(ctx, records)
}

// SetActive toggles whether the campaign dials.
func (r *CampaignRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("campaign repo: set active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// hydrate converts records and attaches their list ids with one query.
func (r *CampaignRepository) hydrate(ctx context.Context, records []campaignRecord) ([]*domain.Campaign, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	var links []struct {
		CampaignID uuid.UUID `db:"campaign_id"`
		ListID     uuid.UUID `db:"list_id"`
	}
	if err := sqlx.SelectContext(ctx, r.db, &links, `SELECT campaign_id, list_id FROM campaign_lists
		WHERE campaign_id = ANY($1) ORDER BY campaign_id, list_id`, ids); err != nil {
		return nil, fmt.Errorf("campaign repo: list lists: %w", err)
	}
	lists := make(map[uuid.UUID][]uuid.UUID, len(records))
	for _, link := range links {
		lists[link.CampaignID] = append(lists[link.CampaignID], link.ListID)
	}

	out := make([]*domain.Campaign, 0, len(records))
	for _, rec := range records {
		campaign, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("campaign repo: campaign %s: %w", rec.ID, err)
		}
		campaign.ListIDs = lists[rec.ID]
		out = append(out, campaign)
	}
	return out, nil
}

type campaignRecord struct {
	ID                     uuid.UUID `db:"id"`
	Name                   string    `db:"name"`
	Strategy               string    `db:"strategy"`
	DialingRatio           float64   `db:"dialing_ratio"`
	IsActive               bool      `db:"is_active"`
	WindowStartMinute      int       `db:"window_start_minute"`
	WindowEndMinute        int       `db:"window_end_minute"`
	WindowWeekdays         int       `db:"window_weekdays"`
	WindowTimeZone         string    `db:"window_time_zone"`
	WindowTimeZonePolicy   string    `db:"window_time_zone_policy"`
	MinCallIntervalMinutes int       `db:"min_call_interval_minutes"`
	MaxAttemptsPerLead     int       `db:"max_attempts_per_lead"`
	RecycleEnabled         bool      `db:"recycle_enabled"`
	RecycleMaxCount        int       `db:"recycle_max_count"`
	RecycleCooldownHours   int       `db:"recycle_cooldown_hours"`
	CallerID               string    `db:"caller_id"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

func newCampaignRecord(c *domain.Campaign) campaignRecord {
	return campaignRecord{
		ID:                     c.ID,
		Name:                   c.Name,
		Strategy:               string(c.Strategy),
		DialingRatio:           c.DialingRatio,
		IsActive:               c.IsActive,
		WindowStartMinute:      int(c.CallWindow.Start),
		WindowEndMinute:        int(c.CallWindow.End),
		WindowWeekdays:         weekdayMask(c.CallWindow.Weekdays),
		WindowTimeZone:         c.CallWindow.TimeZone,
		WindowTimeZonePolicy:   string(c.CallWindow.TimeZonePolicy),
		MinCallIntervalMinutes: int(c.MinCallInterval / time.Minute),
		MaxAttemptsPerLead:     c.MaxAttemptsPerLead,
		RecycleEnabled:         c.AutoRecycle.Enabled,
		RecycleMaxCount:        c.AutoRecycle.MaxRecycleCount,
		RecycleCooldownHours:   c.AutoRecycle.CooldownHours,
		CallerID:               c.CallerID,
		CreatedAt:              c.CreatedAt,
		UpdatedAt:              c.UpdatedAt,
	}
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	strategy, err := domain.ParseDialingStrategy(r.Strategy)
	if err != nil {
		return nil, err
	}
	policy, err := domain.ParseTimeZonePolicy(r.WindowTimeZonePolicy)
	if err != nil {
		return nil, err
	}
	return &domain.Campaign{
		ID:           r.ID,
		Name:         r.Name,
		Strategy:     strategy,
		DialingRatio: r.DialingRatio,
		IsActive:     r.IsActive,
		CallWindow: domain.CallWindow{
			Start:          domain.TimeOfDay(r.WindowStartMinute),
			End:            domain.TimeOfDay(r.WindowEndMinute),
			Weekdays:       weekdaysFromMask(r.WindowWeekdays),
			TimeZone:       r.WindowTimeZone,
			TimeZonePolicy: policy,
		},
		MinCallInterval:    time.Duration(r.MinCallIntervalMinutes) * time.Minute,
		MaxAttemptsPerLead: r.MaxAttemptsPerLead,
		AutoRecycle: domain.AutoRecycle{
			Enabled:         r.RecycleEnabled,
			MaxRecycleCount: r.RecycleMaxCount,
			CooldownHours:   r.RecycleCooldownHours,
		},
		CallerID:  r.CallerID,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

// weekdayMask stores weekdays as bits, Sunday first. Zero means every day.
func weekdayMask(days []time.Weekday) int {
	mask := 0
	for _, d := range days {
		mask |= 1 << uint(d)
	}
	return mask
}

func weekdaysFromMask(mask int) []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if mask&(1<<uint(d)) != 0 {
			days = append(days, d)
		}
	}
	return days
}
