// Package compliance holds the pure eligibility predicates applied before a lead is dialed.
package compliance

import (
	"time"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/pkg/phone"
)

// Reason names the predicate a lead failed.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonExcluded          Reason = "excluded"
	ReasonDncListed         Reason = "dnc_listed"
	ReasonAttemptCap        Reason = "attempt_cap"
	ReasonMinInterval       Reason = "min_interval"
	ReasonOutsideCallWindow Reason = "outside_call_window"
)

// Result is the outcome of a compliance check. Terminal failures exclude the lead permanently;
// the rest are retried on a later cycle.
type Result struct {
	Passed   bool
	Reason   Reason
	Terminal bool
}

var pass = Result{Passed: true}

func fail(reason Reason, terminal bool) Result {
	return Result{Reason: reason, Terminal: terminal}
}

// Gate evaluates compliance predicates. It has no side effects.
type Gate struct {
	// DefaultRegion is used to normalize numbers stored without a country prefix.
	DefaultRegion string
}

// NewGate returns a gate that normalizes numbers in region.
func NewGate(region string) Gate {
	if region == "" {
		region = phone.DefaultRegion
	}
	return Gate{DefaultRegion: region}
}

// Evaluate runs every predicate and returns the first failure.
func (g Gate) Evaluate(lead *domain.Lead, campaign *domain.Campaign, entries []domain.DncEntry, now time.Time) Result {
	checks := []func() Result{
		func() Result { return g.NotExcluded(lead) },
		func() Result { return g.NotOnDncList(lead, campaign, entries, now) },
		func() Result { return g.UnderAttemptCap(lead, campaign) },
		func() Result { return g.RespectsMinInterval(lead, campaign, now) },
		func() Result { return g.WithinCallWindow(lead, campaign, now) },
	}
	for _, check := range checks {
		if res := check(); !res.Passed {
			return res
		}
	}
	return pass
}

// NotExcluded fails for leads already marked excluded.
func (g Gate) NotExcluded(lead *domain.Lead) Result {
	if lead.IsExcluded || lead.Status == domain.LeadStatusExcluded {
		return fail(ReasonExcluded, true)
	}
	return pass
}

// NotOnDncList fails when an active entry matching the lead's number covers its campaign or list.
func (g Gate) NotOnDncList(lead *domain.Lead, campaign *domain.Campaign, entries []domain.DncEntry, now time.Time) Result {
	if len(entries) == 0 {
		return pass
	}
	number := phone.Canonical(lead.PrimaryPhone, g.DefaultRegion)
	for _, entry := range entries {
		if !entry.Active(now) {
			continue
		}
		if phone.Canonical(entry.PhoneNumber, g.DefaultRegion) != number {
			continue
		}
		if entry.Covers(campaign.ID, lead.ListID) {
			return fail(ReasonDncListed, true)
		}
	}
	return pass
}

// UnderAttemptCap fails once a lead has used every attempt the campaign allows.
func (g Gate) UnderAttemptCap(lead *domain.Lead, campaign *domain.Campaign) Result {
	if lead.AttemptCount >= campaign.MaxAttemptsPerLead {
		return fail(ReasonAttemptCap, false)
	}
	return pass
}

// RespectsMinInterval fails while the lead is still cooling down from its last attempt.
func (g Gate) RespectsMinInterval(lead *domain.Lead, campaign *domain.Campaign, now time.Time) Result {
	if lead.NextEligibleAt != nil && now.Before(*lead.NextEligibleAt) {
		return fail(ReasonMinInterval, false)
	}
	if lead.LastAttemptAt == nil {
		return pass
	}
	if now.Sub(*lead.LastAttemptAt) < campaign.MinCallInterval {
		return fail(ReasonMinInterval, false)
	}
	return pass
}

// WithinCallWindow fails outside the campaign's window in the lead's effective time zone.
func (g Gate) WithinCallWindow(lead *domain.Lead, campaign *domain.Campaign, now time.Time) Result {
	window := campaign.CallWindow
	local := now.In(EffectiveLocation(lead, campaign))
	if inWindow(window, local) {
		return pass
	}
	return fail(ReasonOutsideCallWindow, false)
}

func inWindow(window domain.CallWindow, local time.Time) bool {
	minute := domain.Clock(local.Hour(), local.Minute())
	weekday := local.Weekday()

	switch {
	case window.Start == window.End:
		return false
	case window.Wraps():
		// the early-morning tail belongs to the window that opened the previous day
		if minute >= window.Start {
			return window.AllowsWeekday(weekday)
		}
		if minute < window.End {
			return window.AllowsWeekday((weekday + 6) % 7)
		}
		return false
	default:
		return window.AllowsWeekday(weekday) && minute >= window.Start && minute < window.End
	}
}

// EffectiveLocation resolves lead zone, then campaign zone, then UTC.
// Zone names that fail to load fall through to the next candidate.
func EffectiveLocation(lead *domain.Lead, campaign *domain.Campaign) *time.Location {
	candidates := make([]string, 0, 2)
	if campaign.CallWindow.TimeZonePolicy != domain.TimeZoneCampaign && lead != nil {
		candidates = append(candidates, lead.TimeZone)
	}
	candidates = append(candidates, campaign.CallWindow.TimeZone)

	for _, name := range candidates {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
