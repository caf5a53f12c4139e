package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// DialingStrategy selects how a campaign paces attempts against agents.
type DialingStrategy string

const (
	StrategyPreview    DialingStrategy = "preview"
	StrategyPredictive DialingStrategy = "predictive"
	StrategyManual     DialingStrategy = "manual"
)

// ParseDialingStrategy rejects values outside the closed set.
func ParseDialingStrategy(s string) (DialingStrategy, error) {
	switch v := DialingStrategy(strings.ToLower(strings.TrimSpace(s))); v {
	case StrategyPreview, StrategyPredictive, StrategyManual:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown dialing strategy %q", apperrors.ErrValidation, s)
}

// TimeZonePolicy decides whose clock the call window is evaluated against.
type TimeZonePolicy string

const (
	// TimeZoneLeadLocal prefers the lead's zone, then the campaign's, then UTC.
	TimeZoneLeadLocal TimeZonePolicy = "lead_local"
	// TimeZoneCampaign ignores lead zones.
	TimeZoneCampaign TimeZonePolicy = "campaign"
)

// ParseTimeZonePolicy rejects values outside the closed set. Empty means lead_local.
func ParseTimeZonePolicy(s string) (TimeZonePolicy, error) {
	switch v := TimeZonePolicy(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return TimeZoneLeadLocal, nil
	case TimeZoneLeadLocal, TimeZoneCampaign:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown time zone policy %q", apperrors.ErrValidation, s)
}

// TimeOfDay is a wall-clock time expressed in minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "15:04".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time of day %q", apperrors.ErrValidation, s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// Clock builds a TimeOfDay from hours and minutes.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < 24*60
}

// CallWindow is the local-time window during which leads may be dialed.
// Start after End wraps past midnight.
type CallWindow struct {
	Start          TimeOfDay
	End            TimeOfDay
	Weekdays       []time.Weekday
	TimeZone       string
	TimeZonePolicy TimeZonePolicy
}

// Wraps reports whether the window crosses midnight.
func (w CallWindow) Wraps() bool {
	return w.Start > w.End
}

// AllowsWeekday reports whether day is in the allowed set. An empty set allows every day.
func (w CallWindow) AllowsWeekday(day time.Weekday) bool {
	if len(w.Weekdays) == 0 {
		return true
	}
	for _, d := range w.Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// AutoRecycle configures how exhausted leads return to the dialable pool.
type AutoRecycle struct {
	Enabled         bool
	MaxRecycleCount int
	CooldownHours   int
}

// Cooldown returns the configured cooldown as a duration.
func (a AutoRecycle) Cooldown() time.Duration {
	return time.Duration(a.CooldownHours) * time.Hour
}

// Campaign is the dialing configuration for a set of lead lists.
type Campaign struct {
	ID                 uuid.UUID
	Name               string
	Strategy           DialingStrategy
	DialingRatio       float64
	IsActive           bool
	CallWindow         CallWindow
	MinCallInterval    time.Duration
	MaxAttemptsPerLead int
	AutoRecycle        AutoRecycle
	ListIDs            []uuid.UUID
	CallerID           string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks the invariants a campaign must hold before it can dial.
func (c *Campaign) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: campaign is required", apperrors.ErrValidation)
	}
	if _, err := ParseDialingStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.Strategy == StrategyPredictive && c.DialingRatio <= 0 {
		return fmt.Errorf("%w: predictive campaigns require a dialing ratio above zero", apperrors.ErrValidation)
	}
	if !c.CallWindow.Start.Valid() || !c.CallWindow.End.Valid() {
		return fmt.Errorf("%w: call window times must fall within a day", apperrors.ErrValidation)
	}
	if c.CallWindow.Start == c.CallWindow.End {
		return fmt.Errorf("%w: call window start and end must differ", apperrors.ErrValidation)
	}
	if c.CallWindow.TimeZone != "" {
		if _, err := time.LoadLocation(c.CallWindow.TimeZone); err != nil {
			return fmt.Errorf("%w: invalid time zone %q", apperrors.ErrValidation, c.CallWindow.TimeZone)
		}
	}
	if c.MaxAttemptsPerLead <= 0 {
		return fmt.Errorf("%w: max attempts per lead must be positive", apperrors.ErrValidation)
	}
	if c.MinCallInterval < 0 {
		return fmt.Errorf("%w: min call interval cannot be negative", apperrors.ErrValidation)
	}
	if c.AutoRecycle.Enabled && (c.AutoRecycle.MaxRecycleCount < 0 || c.AutoRecycle.CooldownHours < 0) {
		return fmt.Errorf("%w: recycle limits cannot be negative", apperrors.ErrValidation)
	}
	return nil
}

// CampaignStats aggregates attempt and lead outcome counters for a campaign.
type CampaignStats struct {
	AttemptsCreated int64
	Connected       int64
	Contacted       int64
	NoAnswer        int64
	Failed          int64
	Excluded        int64
	Recycled        int64
}
