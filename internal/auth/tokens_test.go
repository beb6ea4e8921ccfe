package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")
	user := User{ID: "u1", Username: "alice", Email: "alice@example.com", Role: RoleAdmin}

	raw, err := codec.SignAccess(user)
	require.NoError(t, err)

	identity, err := codec.VerifyAccess(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", identity.ID)
	require.Equal(t, "alice", identity.Username)
	require.Equal(t, "alice@example.com", identity.Email)
	require.Equal(t, RoleAdmin, identity.Role)
}

func TestVerifyAccessRejectsWrongSecret(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")
	other := NewTokenCodec("different-secret", "refresh-secret")

	raw, err := codec.SignAccess(User{ID: "u1"})
	require.NoError(t, err)

	_, err = other.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAccessRejectsExpired(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")
	codec.accessTTL = -time.Minute

	raw, err := codec.SignAccess(User{ID: "u1"})
	require.NoError(t, err)

	_, err = codec.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyAccessRejectsRefreshToken(t *testing.T) {
	codec := NewTokenCodec("same-secret", "same-secret")

	raw, err := codec.SignRefresh("u1", "jti-1")
	require.NoError(t, err)

	// Same signing key, wrong typ claim.
	_, err = codec.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")

	raw, err := codec.SignRefresh("u1", "jti-1")
	require.NoError(t, err)

	userID, jti, err := codec.VerifyRefresh(raw)
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
	require.Equal(t, "jti-1", jti)
}

func TestVerifyRefreshRejectsAccessToken(t *testing.T) {
	codec := NewTokenCodec("same-secret", "same-secret")

	raw, err := codec.SignAccess(User{ID: "u1"})
	require.NoError(t, err)

	_, _, err = codec.VerifyRefresh(raw)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRefreshRejectsGarbage(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")

	_, _, err := codec.VerifyRefresh("not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokensAreUniquePerJTI(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")

	a, err := codec.SignRefresh("u1", "jti-a")
	require.NoError(t, err)
	b, err := codec.SignRefresh("u1", "jti-b")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NotEqual(t, hashToken(a), hashToken(b))
}

func TestWithTTLsIgnoresNonPositive(t *testing.T) {
	codec := NewTokenCodec("access-secret", "refresh-secret")
	codec.WithTTLs(0, -time.Hour)

	require.Equal(t, defaultAccessTTL, codec.AccessTTL())
	require.Equal(t, defaultRefreshTTL, codec.RefreshTTL())
}
