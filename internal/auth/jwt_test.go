package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_IssueAndParse(t *testing.T) {
	v := NewVerifier("test-secret", "wallet")

	tok, err := v.Issue("acct-1", RoleUser, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{AccountID: "acct-1", Role: RoleUser}, id)
	assert.False(t, id.CanDecideWithdrawals())
}

func TestVerifier_AdminCanDecide(t *testing.T) {
	v := NewVerifier("test-secret", "")
	tok, err := v.Issue("ops-1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	id, err := v.Parse(tok)
	require.NoError(t, err)
	assert.True(t, id.CanDecideWithdrawals())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("test-secret", "wallet")

	expired, err := v.Issue("acct-1", RoleUser, -time.Minute)
	require.NoError(t, err)

	wrongKey, err := NewVerifier("other-secret", "wallet").Issue("acct-1", RoleUser, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewVerifier("test-secret", "someone-else").Issue("acct-1", RoleUser, time.Hour)
	require.NoError(t, err)

	badRole, err := v.Issue("acct-1", Role("superuser"), time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acct-1", Issuer: "wallet"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-1",
			Issuer:    "wallet",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"bad role":     badRole,
		"no expiry":    noExpiry,
		"alg none":     noneAlg,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(tok)
			assert.Error(t, err)
		})
	}
}
