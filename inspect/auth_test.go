package inspect

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateToken(t *testing.T) {
	token, err := IssueToken("k", "bob", time.Minute)
	require.NoError(t, err)

	sub, err := AuthenticateToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)

	_, err = AuthenticateToken("other", token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestAuthenticateToken_RequiresExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "bob"}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = AuthenticateToken("k", token)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestAuthenticateToken_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = AuthenticateToken("k", token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}
