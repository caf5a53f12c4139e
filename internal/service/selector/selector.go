// Package selector yields dialable leads for a campaign in priority order.
package selector

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/acme/campaign-dialer/internal/compliance"
	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
	"github.com/acme/campaign-dialer/pkg/phone"
)

const defaultPageSize = 100

// RejectFunc receives leads that failed a terminal compliance check.
type RejectFunc func(ctx context.Context, lead *domain.Lead, res compliance.Result)

// Query describes one selection pass.
type Query struct {
	Campaign *domain.Campaign
	Limit    int
	Now      time.Time
	// OnTerminal is called for every lead that failed a terminal check, before the
	// sequence moves on. Nil ignores them.
	OnTerminal RejectFunc
}

// Selector pages candidate leads and filters them through the compliance gate.
type Selector struct {
	leads    repository.LeadRepository
	dnc      repository.DncRepository
	gate     compliance.Gate
	pageSize int
}

// New constructs a selector.
func New(leads repository.LeadRepository, dnc repository.DncRepository, gate compliance.Gate, pageSize int) *Selector {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Selector{leads: leads, dnc: dnc, gate: gate, pageSize: pageSize}
}

// Select returns a lazy sequence of at most q.Limit leads that pass every compliance check.
// Each range over the sequence queries from the top again. A repository failure is yielded
// once as an error and ends the sequence.
//
// When q.OnTerminal is set, the remaining candidates are still screened after the limit is
// reached or the caller stops ranging, so every terminal rejection is reported in one pass.
func (s *Selector) Select(ctx context.Context, q Query) iter.Seq2[*domain.Lead, error] {
	return func(yield func(*domain.Lead, error) bool) {
		if q.Limit <= 0 || q.Campaign == nil || len(q.Campaign.ListIDs) == 0 {
			return
		}

		emitted := 0
		// screening is set once the caller needs no more leads
		screening := false
		fail := func(err error) {
			if !screening {
				yield(nil, err)
			}
		}

		var cursor *repository.LeadCursor
		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			page, err := s.leads.ListCandidates(ctx, repository.CandidateQuery{
				ListIDs:     q.Campaign.ListIDs,
				Statuses:    domain.SelectableLeadStatuses,
				MaxAttempts: q.Campaign.MaxAttemptsPerLead,
				Now:         q.Now,
				After:       cursor,
				Limit:       s.pageSize,
			})
			if err != nil {
				fail(fmt.Errorf("selector: list candidates: %w", err))
				return
			}
			if len(page) == 0 {
				return
			}

			entries, err := s.dncEntries(ctx, page)
			if err != nil {
				fail(err)
				return
			}

			for _, lead := range page {
				s.deriveTimeZone(lead)
				res := s.gate.Evaluate(lead, q.Campaign, entries[s.canonical(lead.PrimaryPhone)], q.Now)
				if !res.Passed {
					if res.Terminal && q.OnTerminal != nil {
						q.OnTerminal(ctx, lead, res)
					}
					continue
				}
				if screening {
					continue
				}
				if !yield(lead, nil) {
					screening = true
				} else {
					emitted++
					screening = emitted >= q.Limit
				}
				if screening && q.OnTerminal == nil {
					return
				}
			}

			if len(page) < s.pageSize {
				return
			}
			cursor = repository.CursorAfter(page[len(page)-1])
		}
	}
}

// Check re-runs the gate for a single lead against fresh DNC data.
func (s *Selector) Check(ctx context.Context, lead *domain.Lead, campaign *domain.Campaign, now time.Time) (compliance.Result, error) {
	entries, err := s.dncEntries(ctx, []*domain.Lead{lead})
	if err != nil {
		return compliance.Result{}, err
	}
	s.deriveTimeZone(lead)
	return s.gate.Evaluate(lead, campaign, entries[s.canonical(lead.PrimaryPhone)], now), nil
}

func (s *Selector) dncEntries(ctx context.Context, leads []*domain.Lead) (map[string][]domain.DncEntry, error) {
	numbers := make([]string, 0, len(leads))
	for _, l := range leads {
		numbers = append(numbers, s.canonical(l.PrimaryPhone))
	}
	entries, err := s.dnc.Lookup(ctx, numbers)
	if err != nil {
		return nil, fmt.Errorf("selector: dnc lookup: %w", err)
	}
	byNumber := make(map[string][]domain.DncEntry, len(entries))
	for _, e := range entries {
		key := s.canonical(e.PhoneNumber)
		byNumber[key] = append(byNumber[key], e)
	}
	return byNumber, nil
}

func (s *Selector) canonical(number string) string {
	return phone.Canonical(number, s.gate.DefaultRegion)
}

func (s *Selector) deriveTimeZone(lead *domain.Lead) {
	if lead.TimeZone != "" {
		return
	}
	if tz, ok := phone.TimeZone(lead.PrimaryPhone, s.gate.DefaultRegion); ok {
		lead.TimeZone = tz
	}
}
