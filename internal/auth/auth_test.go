package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))

	token, err := issuer.Mint("u-42")
	require.NoError(t, err)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u-42", userID)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewIssuer([]byte("secret-a")).Mint("u-1")
	require.NoError(t, err)

	_, err = NewIssuer([]byte("secret-b")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	_, err := NewIssuer([]byte("s")).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	issuer := NewIssuer([]byte("s"))
	token, err := issuer.Mint("u-1")
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(TokenLifetime + time.Minute) }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMintEmptyUser(t *testing.T) {
	_, err := NewIssuer([]byte("s")).Mint("")
	assert.Error(t, err)
}
