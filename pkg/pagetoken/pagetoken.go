// Package pagetoken turns opaque store paging state into URL-safe tokens.
package pagetoken

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

// Encode returns the token for a paging state. An exhausted listing yields "".
func Encode(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// Decode parses a token produced by Encode. The empty token is the first page.
func Decode(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return data, nil
}
