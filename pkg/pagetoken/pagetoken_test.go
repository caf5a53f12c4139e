package pagetoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	state := []byte{0x00, 0xff, 0x10, '/', '+'}
	token := Encode(state)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "+")

	got, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestEmptyToken(t *testing.T) {
	assert.Empty(t, Encode(nil))
	got, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not*base64")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
