package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a conditional update lost to a concurrent writer.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository reads campaign configuration and toggles activity.
type CampaignRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	List(ctx context.Context, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error)
	ListActive(ctx context.Context, limit int) ([]*domain.Campaign, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// LeadRepository stores leads and performs their conditional status updates.
type LeadRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	// ListCandidates returns one keyset page of dialable leads in selection order.
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*domain.Lead, error)
	// ListByStatus pages leads in the given lists ordered by created_at, id.
	ListByStatus(ctx context.Context, q StatusQuery) ([]*domain.Lead, error)
	// Claim moves a lead from one of the given statuses to status. False means someone else got there first.
	Claim(ctx context.Context, id uuid.UUID, from []domain.LeadStatus, to domain.LeadStatus) (bool, error)
	// Exclude permanently removes a lead from selection.
	Exclude(ctx context.Context, id uuid.UUID, from []domain.LeadStatus, reason string) (bool, error)
	// Recycle resets attempts and returns the lead to new.
	Recycle(ctx context.Context, id uuid.UUID, from domain.LeadStatus) (bool, error)
}

// AgentRepository reads agent presence and reserves agents atomically.
type AgentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Agent, error)
	ListAvailable(ctx context.Context, campaignID uuid.UUID) ([]*domain.Agent, error)
	// SetAvailability moves the agent from one state to another. False means it was not in from.
	SetAvailability(ctx context.Context, id uuid.UUID, from, to domain.AgentAvailability) (bool, error)
}

// AttemptRepository persists attempts. Create and Transition run as single transactions
// covering the attempt, its lead, and its agent.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.CallAttempt, claimFrom []domain.LeadStatus) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallAttempt, error)
	GetByExternalID(ctx context.Context, externalCallID string) (*domain.CallAttempt, error)
	ListNonTerminal(ctx context.Context, campaignID uuid.UUID) ([]*domain.CallAttempt, error)
	Transition(ctx context.Context, t Transition) (bool, error)
}

// DncRepository answers do-not-call lookups.
type DncRepository interface {
	// Lookup returns every entry for the given numbers, expired or not.
	Lookup(ctx context.Context, numbers []string) ([]domain.DncEntry, error)
	IsListed(ctx context.Context, number string, scope domain.DncScope, scopeID *uuid.UUID, now time.Time) (bool, error)
	Add(ctx context.Context, entry domain.DncEntry) error
}

// CampaignStatisticsRepository keeps aggregate counters.
type CampaignStatisticsRepository interface {
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// AttemptJournal is the append-only history of applied attempt transitions.
type AttemptJournal interface {
	Append(ctx context.Context, event domain.AttemptEvent) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.AttemptEvent, []byte, error)
}

// LeadCursor is the keyset position after the last lead of a candidate page.
type LeadCursor struct {
	Priority      int
	LastAttemptAt *time.Time
	CreatedAt     time.Time
	ID            uuid.UUID
}

// CursorAfter returns the cursor positioned after lead.
func CursorAfter(lead *domain.Lead) *LeadCursor {
	return &LeadCursor{
		Priority:      lead.Priority,
		LastAttemptAt: lead.LastAttemptAt,
		CreatedAt:     lead.CreatedAt,
		ID:            lead.ID,
	}
}

// CandidateQuery filters dialable leads. MaxAttempts of zero disables the cap filter. Ordering is priority desc, last attempt asc
// with never-attempted first, created asc, id asc.
type CandidateQuery struct {
	ListIDs     []uuid.UUID
	Statuses    []domain.LeadStatus
	MaxAttempts int
	Now         time.Time
	After       *LeadCursor
	Limit       int
}

// StatusQuery pages leads by status in creation order.
type StatusQuery struct {
	ListIDs   []uuid.UUID
	Statuses  []domain.LeadStatus
	AfterID   *uuid.UUID
	AfterTime time.Time
	Limit     int
}

// Transition is a conditional attempt state change plus the lead and agent
// updates that must commit with it.
type Transition struct {
	AttemptID       uuid.UUID
	From            []domain.AttemptState
	To              domain.AttemptState
	ExternalCallID  string
	AgentID         *uuid.UUID
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	OutcomeCode     domain.OutcomeCode
	DurationSeconds int
	Lead            *LeadUpdate
	ReleaseAgentID  *uuid.UUID
}

// LeadUpdate is applied to the attempt's lead only while it is still in progress.
type LeadUpdate struct {
	Status          domain.LeadStatus
	LastAttemptAt   time.Time
	NextEligibleAt  *time.Time
	ExclusionReason string
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	AttemptsCreated int64
	Connected       int64
	Contacted       int64
	NoAnswer        int64
	Failed          int64
	Excluded        int64
	Recycled        int64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d == StatsDelta{}
}
