package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// AttemptState enumerates lifecycle stages of a single dial attempt.
type AttemptState string

const (
	AttemptCreated   AttemptState = "created"
	AttemptDialing   AttemptState = "dialing"
	AttemptConnected AttemptState = "connected"
	AttemptEnded     AttemptState = "ended"
	AttemptFailed    AttemptState = "failed"
)

// NonTerminalAttemptStates hold a claim on their lead.
var NonTerminalAttemptStates = []AttemptState{AttemptCreated, AttemptDialing, AttemptConnected}

// ParseAttemptState rejects values outside the closed set.
func ParseAttemptState(s string) (AttemptState, error) {
	switch v := AttemptState(strings.ToLower(strings.TrimSpace(s))); v {
	case AttemptCreated, AttemptDialing, AttemptConnected, AttemptEnded, AttemptFailed:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown attempt state %q", apperrors.ErrValidation, s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptEnded || s == AttemptFailed
}

// ContainsAttemptState reports whether s is in set.
func ContainsAttemptState(set []AttemptState, s AttemptState) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// OutcomeCode is the disposition reported for a finished attempt.
type OutcomeCode string

const (
	OutcomeAnswered        OutcomeCode = "answered"
	OutcomeNoAnswer        OutcomeCode = "no_answer"
	OutcomeBusy            OutcomeCode = "busy"
	OutcomeVoicemail       OutcomeCode = "voicemail"
	OutcomeOptOut          OutcomeCode = "opt_out"
	OutcomeRejected        OutcomeCode = "rejected"
	OutcomeInvalidNumber   OutcomeCode = "invalid_number"
	OutcomeNetworkError    OutcomeCode = "network_error"
	OutcomeDialRejected    OutcomeCode = "dial_rejected"
	OutcomeCampaignStopped OutcomeCode = "campaign_stopped"
	OutcomeFailed          OutcomeCode = "failed"
)

// IsFailure reports whether the outcome marks the attempt as failed regardless of connection.
func (o OutcomeCode) IsFailure() bool {
	switch o {
	case OutcomeRejected, OutcomeInvalidNumber, OutcomeNetworkError,
		OutcomeDialRejected, OutcomeCampaignStopped, OutcomeFailed:
		return true
	}
	return false
}

// IsOptOut reports whether the callee asked not to be called again.
func (o OutcomeCode) IsOptOut() bool {
	return o == OutcomeOptOut
}

// CallAttempt is one dial of one lead.
type CallAttempt struct {
	ID              uuid.UUID
	CampaignID      uuid.UUID
	LeadID          uuid.UUID
	AgentID         *uuid.UUID
	ExternalCallID  string
	State           AttemptState
	StartedAt       time.Time
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	OutcomeCode     OutcomeCode
	DurationSeconds int
}

// LeadOutcome maps how an attempt finished onto the lead's next status.
func LeadOutcome(connected bool, outcome OutcomeCode, durationSeconds int) LeadStatus {
	switch {
	case outcome.IsOptOut():
		return LeadStatusExcluded
	case outcome.IsFailure():
		return LeadStatusFailed
	case connected && durationSeconds > 0:
		return LeadStatusContacted
	default:
		return LeadStatusNoAnswer
	}
}

// AttemptOutcome maps how an attempt finished onto its terminal state.
func AttemptOutcome(connected bool, outcome OutcomeCode) AttemptState {
	if !connected || outcome.IsFailure() {
		return AttemptFailed
	}
	return AttemptEnded
}
