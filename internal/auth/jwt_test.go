package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken(7, "bob", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "bob", claims.Username)
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := GenerateToken(7, "bob", "secret", time.Hour)
	require.NoError(t, err)

	expired, err := GenerateToken(7, "bob", "secret", -time.Minute)
	require.NoError(t, err)

	noUser, err := GenerateToken(0, "ghost", "secret", time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 7}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": valid,
		"expired":      expired,
		"no user id":   noUser,
		"alg none":     unsigned,
		"garbage":      "not.a.token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			secret := "secret"
			if name == "wrong secret" {
				secret = "other"
			}
			_, err := ParseToken(tok, secret)
			assert.Error(t, err)
		})
	}
}
