package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func TestWeekdayMask(t *testing.T) {
	days := []time.Weekday{time.Monday, time.Wednesday, time.Saturday}
	mask := weekdayMask(days)
	assert.Equal(t, 1<<1|1<<3|1<<6, mask)
	assert.Equal(t, days, weekdaysFromMask(mask))
	assert.Empty(t, weekdaysFromMask(0))
}

func TestCampaignRecordCarriesWindowAndPolicy(t *testing.T) {
	in := &domain.Campaign{
		ID:                 uuid.New(),
		Name:               "renewals",
		Strategy:           domain.StrategyPredictive,
		DialingRatio:       2.5,
		IsActive:           true,
		MinCallInterval:    90 * time.Minute,
		MaxAttemptsPerLead: 4,
		CallWindow: domain.CallWindow{
			Start:          domain.Clock(22, 0),
			End:            domain.Clock(2, 0),
			Weekdays:       []time.Weekday{time.Friday},
			TimeZone:       "America/New_York",
			TimeZonePolicy: domain.TimeZoneCampaign,
		},
		AutoRecycle: domain.AutoRecycle{Enabled: true, MaxRecycleCount: 2, CooldownHours: 48},
		CallerID:    "+12015550000",
	}

	out, err := newCampaignRecord(in).toDomain()
	require.NoError(t, err)
	assert.Equal(t, in.CallWindow, out.CallWindow)
	assert.Equal(t, in.MinCallInterval, out.MinCallInterval)
	assert.Equal(t, in.AutoRecycle, out.AutoRecycle)
	assert.Equal(t, in.Strategy, out.Strategy)
}

func TestRecordsRejectUnknownEnums(t *testing.T) {
	_, err := campaignRecord{Strategy: "robocall"}.toDomain()
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = leadRecord{Status: "dialing"}.toDomain()
	assert.Error(t, err)

	_, err = attemptRecord{State: "ringing"}.toDomain()
	assert.Error(t, err)
}

func TestDncRecordStoresCanonicalNumber(t *testing.T) {
	scope := uuid.New()
	rec := newDncRecord(domain.DncEntry{PhoneNumber: "(201) 555-0123", Scope: domain.DncScopeList, ScopeID: &scope}, "US")
	assert.Equal(t, "+12015550123", rec.PhoneNumber)
	assert.Equal(t, "list", rec.Scope)
	assert.Equal(t, &scope, rec.ScopeID)
}
