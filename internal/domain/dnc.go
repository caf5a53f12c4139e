package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// DncScope is the reach of a do-not-call entry.
type DncScope string

const (
	DncScopeGlobal   DncScope = "global"
	DncScopeCampaign DncScope = "campaign"
	DncScopeList     DncScope = "list"
)

// ParseDncScope rejects values outside the closed set.
func ParseDncScope(s string) (DncScope, error) {
	switch v := DncScope(strings.ToLower(strings.TrimSpace(s))); v {
	case DncScopeGlobal, DncScopeCampaign, DncScopeList:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown dnc scope %q", apperrors.ErrValidation, s)
}

// DncEntry suppresses dialing a normalized number within a scope.
// ScopeID is nil for global entries.
type DncEntry struct {
	PhoneNumber string
	Scope       DncScope
	ScopeID     *uuid.UUID
	ExpiresAt   *time.Time
}

// Active reports whether the entry still applies at now.
func (e DncEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || now.Before(*e.ExpiresAt)
}

// Covers reports whether the entry applies to a lead in the given campaign and list.
func (e DncEntry) Covers(campaignID, listID uuid.UUID) bool {
	switch e.Scope {
	case DncScopeGlobal:
		return true
	case DncScopeCampaign:
		return e.ScopeID != nil && *e.ScopeID == campaignID
	case DncScopeList:
		return e.ScopeID != nil && *e.ScopeID == listID
	}
	return false
}
