// Package phone normalizes dialable numbers and derives their time zone.
package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// DefaultRegion is used when a number carries no country prefix and the caller has none configured.
const DefaultRegion = "US"

// NormalizeE164 parses input in the given region and formats it as E.164.
// Invalid numbers return an ErrValidation-wrapped error.
func NormalizeE164(input, region string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("%w: phone number is empty", apperrors.ErrValidation)
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", apperrors.ErrValidation, trimmed, err)
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", fmt.Errorf("%w: %q is not a valid number", apperrors.ErrValidation, trimmed)
	}

	return phonenumbers.Format(number, phonenumbers.E164), nil
}

// Canonical returns the E.164 form when the number parses, or its digits otherwise.
// It is used for matching, never for dialing.
func Canonical(input, region string) string {
	if normalized, err := NormalizeE164(input, region); err == nil {
		return normalized
	}
	var b strings.Builder
	for _, r := range input {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TimeZone returns the IANA zone for a number when its prefix maps to exactly one zone.
func TimeZone(input, region string) (string, bool) {
	if region == "" {
		region = DefaultRegion
	}
	number, err := phonenumbers.Parse(strings.TrimSpace(input), region)
	if err != nil {
		return "", false
	}
	zones, err := phonenumbers.GetTimezonesForNumber(number)
	if err != nil || len(zones) != 1 {
		return "", false
	}
	if zones[0] == "" || zones[0] == "Etc/Unknown" {
		return "", false
	}
	return zones[0], true
}
