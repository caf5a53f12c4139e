package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// LeadStatus enumerates where a lead sits in the dialing lifecycle.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusQueued     LeadStatus = "queued"
	LeadStatusInProgress LeadStatus = "in_progress"
	LeadStatusContacted  LeadStatus = "contacted"
	LeadStatusNoAnswer   LeadStatus = "no_answer"
	LeadStatusFailed     LeadStatus = "failed"
	LeadStatusExcluded   LeadStatus = "excluded"
	LeadStatusRecycled   LeadStatus = "recycled"
)

// SelectableLeadStatuses are the statuses the selector may hand out for dialing.
// Queued and in-progress leads already hold a claim.
var SelectableLeadStatuses = []LeadStatus{
	LeadStatusNew,
	LeadStatusRecycled,
	LeadStatusNoAnswer,
	LeadStatusFailed,
}

// RecyclableLeadStatuses are the outcomes the recycling pass looks at.
var RecyclableLeadStatuses = []LeadStatus{
	LeadStatusNoAnswer,
	LeadStatusFailed,
}

// ParseLeadStatus rejects values outside the closed set.
func ParseLeadStatus(s string) (LeadStatus, error) {
	switch v := LeadStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case LeadStatusNew, LeadStatusQueued, LeadStatusInProgress, LeadStatusContacted,
		LeadStatusNoAnswer, LeadStatusFailed, LeadStatusExcluded, LeadStatusRecycled:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown lead status %q", apperrors.ErrValidation, s)
}

// Selectable reports whether a lead in this status may be claimed for dialing.
func (s LeadStatus) Selectable() bool {
	return ContainsLeadStatus(SelectableLeadStatuses, s)
}

// ContainsLeadStatus reports whether s is in set.
func ContainsLeadStatus(set []LeadStatus, s LeadStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Exclusion reasons recorded on leads.
const (
	ExclusionDNC          = "dnc listed"
	ExclusionOptOut       = "opted out"
	ExclusionMaxAttempts  = "max attempts reached"
	ExclusionRecycleLimit = "recycle limit exceeded"
)

// Lead is a single dialable contact in a campaign list.
type Lead struct {
	ID              uuid.UUID
	ListID          uuid.UUID
	PrimaryPhone    string
	Status          LeadStatus
	Priority        int
	AttemptCount    int
	RecycleCount    int
	LastAttemptAt   *time.Time
	NextEligibleAt  *time.Time
	IsExcluded      bool
	ExclusionReason string
	TimeZone        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
