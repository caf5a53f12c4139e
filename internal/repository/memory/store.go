// Package memory implements the repository contracts in process, with the same
// conditional-update semantics as the Postgres implementation. It backs tests and
// single-node runs.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	"github.com/acme/campaign-dialer/internal/repository"
)

// Store is the shared state behind every in-memory repository. A single mutex
// makes multi-entity updates atomic.
type Store struct {
	mu sync.Mutex

	campaigns map[uuid.UUID]*domain.Campaign
	leads     map[uuid.UUID]*domain.Lead
	agents    map[uuid.UUID]*domain.Agent
	agentSeq  []uuid.UUID
	attempts  map[uuid.UUID]*domain.CallAttempt
	byExtID   map[string]uuid.UUID
	dnc       []domain.DncEntry
	stats     map[uuid.UUID]*domain.CampaignStats
	journal   []domain.AttemptEvent
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		campaigns: make(map[uuid.UUID]*domain.Campaign),
		leads:     make(map[uuid.UUID]*domain.Lead),
		agents:    make(map[uuid.UUID]*domain.Agent),
		attempts:  make(map[uuid.UUID]*domain.CallAttempt),
		byExtID:   make(map[string]uuid.UUID),
		stats:     make(map[uuid.UUID]*domain.CampaignStats),
	}
}

// Repositories bundles the store behind each contract.
type Repositories struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Agents    repository.AgentRepository
	Attempts  repository.AttemptRepository
	Dnc       repository.DncRepository
	Stats     repository.CampaignStatisticsRepository
	Journal   repository.AttemptJournal
}

// Repositories returns every contract backed by s.
func (s *Store) Repositories() Repositories {
	return Repositories{
		Campaigns: &CampaignRepo{s: s},
		Leads:     &LeadRepo{s: s},
		Agents:    &AgentRepo{s: s},
		Attempts:  &AttemptRepo{s: s},
		Dnc:       &DncRepo{s: s},
		Stats:     &StatsRepo{s: s},
		Journal:   &JournalRepo{s: s},
	}
}

// PutCampaign inserts or replaces a campaign.
func (s *Store) PutCampaign(c *domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.ListIDs = append([]uuid.UUID(nil), c.ListIDs...)
	s.campaigns[c.ID] = &cp
}

// PutLead inserts or replaces a lead.
func (s *Store) PutLead(l *domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = copyLead(l)
}

// PutAgent inserts or replaces an agent.
func (s *Store) PutAgent(a *domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		s.agentSeq = append(s.agentSeq, a.ID)
	}
	s.agents[a.ID] = copyAgent(a)
}

// Lead returns a snapshot of a lead, or nil.
func (s *Store) Lead(id uuid.UUID) *domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok {
		return copyLead(l)
	}
	return nil
}

// Agent returns a snapshot of an agent, or nil.
func (s *Store) Agent(id uuid.UUID) *domain.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[id]; ok {
		return copyAgent(a)
	}
	return nil
}

// AttemptsForLead returns snapshots of every attempt made for a lead.
func (s *Store) AttemptsForLead(leadID uuid.UUID) []*domain.CallAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CallAttempt
	for _, a := range s.attempts {
		if a.LeadID == leadID {
			out = append(out, copyAttempt(a))
		}
	}
	return out
}

// AttemptsForCampaign returns snapshots of every attempt made for a campaign.
func (s *Store) AttemptsForCampaign(campaignID uuid.UUID) []*domain.CallAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CallAttempt
	for _, a := range s.attempts {
		if a.CampaignID == campaignID {
			out = append(out, copyAttempt(a))
		}
	}
	return out
}

func copyLead(l *domain.Lead) *domain.Lead {
	cp := *l
	if l.LastAttemptAt != nil {
		t := *l.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	if l.NextEligibleAt != nil {
		t := *l.NextEligibleAt
		cp.NextEligibleAt = &t
	}
	return &cp
}

func copyAgent(a *domain.Agent) *domain.Agent {
	cp := *a
	cp.CampaignIDs = append([]uuid.UUID(nil), a.CampaignIDs...)
	return &cp
}

func copyAttempt(a *domain.CallAttempt) *domain.CallAttempt {
	cp := *a
	if a.AgentID != nil {
		id := *a.AgentID
		cp.AgentID = &id
	}
	if a.AnsweredAt != nil {
		t := *a.AnsweredAt
		cp.AnsweredAt = &t
	}
	if a.EndedAt != nil {
		t := *a.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
