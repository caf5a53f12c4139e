package compliance

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/acme/campaign-dialer/internal/domain"
)

func newCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:                 uuid.New(),
		Strategy:           domain.StrategyPreview,
		IsActive:           true,
		MaxAttemptsPerLead: 3,
		MinCallInterval:    60 * time.Minute,
		CallWindow: domain.CallWindow{
			Start:    domain.Clock(9, 0),
			End:      domain.Clock(17, 0),
			TimeZone: "America/New_York",
		},
	}
}

func newLead() *domain.Lead {
	return &domain.Lead{
		ID:           uuid.New(),
		ListID:       uuid.New(),
		PrimaryPhone: "+12125550199",
		Status:       domain.LeadStatusNew,
	}
}

func nyTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 2026-03-04 is a Wednesday
	return time.Date(2026, 3, 4, hour, minute, 0, 0, loc)
}

func TestWithinCallWindowLeadLocalEvening(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()

	res := gate.WithinCallWindow(lead, campaign, nyTime(t, 20, 0))
	assert.False(t, res.Passed)
	assert.Equal(t, ReasonOutsideCallWindow, res.Reason)
	assert.False(t, res.Terminal)

	assert.True(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 9, 0)).Passed)
	assert.False(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 17, 0)).Passed)
}

func TestWithinCallWindowPrefersLeadZone(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()
	lead.TimeZone = "America/Los_Angeles"

	// 12:00 in New York is 09:00 in Los Angeles
	assert.True(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 12, 0)).Passed)
	// 10:00 in New York is 07:00 in Los Angeles
	assert.False(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 10, 0)).Passed)

	campaign.CallWindow.TimeZonePolicy = domain.TimeZoneCampaign
	assert.True(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 10, 0)).Passed)
}

func TestWithinCallWindowFallsBackOnBadZone(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	campaign.CallWindow.TimeZone = ""
	lead := newLead()
	lead.TimeZone = "Not/AZone"

	noonUTC := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.UTC, EffectiveLocation(lead, campaign))
	assert.True(t, gate.WithinCallWindow(lead, campaign, noonUTC).Passed)
}

func TestWithinCallWindowWrapsMidnight(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	campaign.CallWindow.Start = domain.Clock(22, 0)
	campaign.CallWindow.End = domain.Clock(2, 0)
	campaign.CallWindow.Weekdays = []time.Weekday{time.Wednesday}
	lead := newLead()

	assert.True(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 23, 30)).Passed)
	assert.False(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 21, 59)).Passed)
	// Thursday 01:00 belongs to Wednesday's window
	assert.True(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 25, 0)).Passed)
	// Wednesday 01:00 belongs to Tuesday's window, which is not allowed
	assert.False(t, gate.WithinCallWindow(lead, campaign, nyTime(t, 1, 0)).Passed)
}

func TestWithinCallWindowWeekdays(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	campaign.CallWindow.Weekdays = []time.Weekday{time.Monday, time.Tuesday}
	assert.False(t, gate.WithinCallWindow(newLead(), campaign, nyTime(t, 10, 0)).Passed)
}

func TestRespectsMinInterval(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()
	now := nyTime(t, 10, 0)

	assert.True(t, gate.RespectsMinInterval(lead, campaign, now).Passed)

	last := now.Add(-10 * time.Minute)
	lead.LastAttemptAt = &last
	res := gate.RespectsMinInterval(lead, campaign, now)
	assert.False(t, res.Passed)
	assert.Equal(t, ReasonMinInterval, res.Reason)

	last = now.Add(-60 * time.Minute)
	assert.True(t, gate.RespectsMinInterval(lead, campaign, now).Passed)

	next := now.Add(time.Minute)
	lead.NextEligibleAt = &next
	assert.False(t, gate.RespectsMinInterval(lead, campaign, now).Passed)
}

func TestUnderAttemptCap(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()
	lead.AttemptCount = 2
	assert.True(t, gate.UnderAttemptCap(lead, campaign).Passed)
	lead.AttemptCount = 3
	assert.False(t, gate.UnderAttemptCap(lead, campaign).Passed)
}

func TestNotOnDncList(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()
	now := nyTime(t, 10, 0)
	other := uuid.New()

	entries := []domain.DncEntry{{PhoneNumber: "(212) 555-0199", Scope: domain.DncScopeCampaign, ScopeID: &other}}
	assert.True(t, gate.NotOnDncList(lead, campaign, entries, now).Passed)

	entries = append(entries, domain.DncEntry{PhoneNumber: "212.555.0199", Scope: domain.DncScopeList, ScopeID: &lead.ListID})
	res := gate.NotOnDncList(lead, campaign, entries, now)
	assert.False(t, res.Passed)
	assert.True(t, res.Terminal)
	assert.Equal(t, ReasonDncListed, res.Reason)

	expired := now.Add(-time.Minute)
	entries = []domain.DncEntry{{PhoneNumber: lead.PrimaryPhone, Scope: domain.DncScopeGlobal, ExpiresAt: &expired}}
	assert.True(t, gate.NotOnDncList(lead, campaign, entries, now).Passed)
}

func TestEvaluateOrder(t *testing.T) {
	gate := NewGate("US")
	campaign := newCampaign()
	lead := newLead()
	lead.IsExcluded = true
	lead.AttemptCount = 10
	res := gate.Evaluate(lead, campaign, nil, nyTime(t, 20, 0))
	assert.Equal(t, ReasonExcluded, res.Reason)
	assert.True(t, res.Terminal)

	lead.IsExcluded = false
	res = gate.Evaluate(lead, campaign, nil, nyTime(t, 20, 0))
	assert.Equal(t, ReasonAttemptCap, res.Reason)

	lead.AttemptCount = 0
	assert.True(t, gate.Evaluate(lead, campaign, nil, nyTime(t, 10, 0)).Passed)
}
