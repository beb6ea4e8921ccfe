package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func registerTestUser(t *testing.T, service *Service) Session {
	t.Helper()

	session, err := service.Register(context.Background(), "alice", "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	return session
}

func TestRegisterIssuesSession(t *testing.T) {
	service, store, _ := newTestService()

	session := registerTestUser(t, service)

	require.NotEmpty(t, session.User.ID)
	require.Equal(t, "alice", session.User.Username)
	require.Equal(t, "alice@example.com", session.User.Email)
	require.Equal(t, RoleUser, session.User.Role)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	require.Equal(t, "Bearer", session.TokenType)
	require.Equal(t, int64(defaultAccessTTL.Seconds()), session.ExpiresIn)

	// The stored row is the hash, never the raw string.
	_, err := store.FindRefreshToken(context.Background(), session.RefreshToken)
	require.Error(t, err)
	record, err := store.FindRefreshToken(context.Background(), hashToken(session.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, session.User.ID, record.UserID)
	require.NotEmpty(t, record.Family)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	service, _, _ := newTestService()

	session, err := service.Register(context.Background(), "alice", "  Alice@Example.COM ", "Sup3rSecret")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", session.User.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	_, err := service.Register(context.Background(), "bob", "alice@example.com", "Sup3rSecret")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	_, err := service.Register(context.Background(), "alice", "other@example.com", "Sup3rSecret")
	require.ErrorIs(t, err, ErrUsernameTaken)
}

func TestRegisterBothTakenReportsEmail(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	_, err := service.Register(context.Background(), "alice", "alice@example.com", "Sup3rSecret")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	session, err := service.Login(context.Background(), "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	require.Equal(t, "alice", session.User.Username)
	require.NotEmpty(t, session.RefreshToken)
}

func TestLoginWrongPassword(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	_, err := service.Login(context.Background(), "alice@example.com", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	_, wrongPassword := service.Login(context.Background(), "alice@example.com", "wrong-password")
	_, unknownEmail := service.Login(context.Background(), "nobody@example.com", "whatever")

	// Both failures must be indistinguishable to the caller.
	require.Equal(t, wrongPassword, unknownEmail)
}

func TestRefreshRotatesWithinFamily(t *testing.T) {
	service, store, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	first, err := store.FindRefreshToken(ctx, hashToken(session.RefreshToken))
	require.NoError(t, err)

	current := session.RefreshToken
	for i := 0; i < 3; i++ {
		next, err := service.Refresh(ctx, current)
		require.NoError(t, err)
		require.NotEqual(t, current, next.RefreshToken)

		record, err := store.FindRefreshToken(ctx, hashToken(next.RefreshToken))
		require.NoError(t, err)
		require.Equal(t, first.Family, record.Family)
		require.False(t, record.Revoked)

		current = next.RefreshToken
	}

	// Only the newest link in the chain is still active.
	require.Equal(t, 1, store.activeTokensForUser(session.User.ID))
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	service, store, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	rotated, err := service.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)

	// Presenting the already-rotated token is theft evidence.
	_, err = service.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuse)

	// The whole family is dead, including the legitimate successor.
	require.Equal(t, 0, store.activeTokensForUser(session.User.ID))
	_, err = service.Refresh(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuse)
}

func TestRefreshReuseLooksLikeInvalidToken(t *testing.T) {
	var authErr *Error
	require.ErrorAs(t, ErrTokenReuse, &authErr)

	var invalidErr *Error
	require.ErrorAs(t, ErrTokenInvalid, &invalidErr)

	require.Equal(t, invalidErr.Status, authErr.Status)
	require.Equal(t, invalidErr.Message, authErr.Message)
}

func TestRefreshUnknownToken(t *testing.T) {
	service, _, _ := newTestService()
	registerTestUser(t, service)

	// A validly signed token with no matching row.
	forged, err := service.codec.SignRefresh("u-unknown", "jti-x")
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), forged)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshGarbageToken(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.Refresh(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrTokenInvalid)

	_, err = service.Refresh(context.Background(), "   ")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshExpiredRow(t *testing.T) {
	service, store, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	hash := hashToken(session.RefreshToken)
	store.mu.Lock()
	record := store.tokens[hash]
	record.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	store.tokens[hash] = record
	store.mu.Unlock()

	_, err := service.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLogoutRevokesPresentedToken(t *testing.T) {
	service, store, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	require.NoError(t, service.Logout(ctx, session.RefreshToken))
	require.Equal(t, 0, store.activeTokensForUser(session.User.ID))
}

func TestLogoutIsIdempotent(t *testing.T) {
	service, _, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	require.NoError(t, service.Logout(ctx, session.RefreshToken))
	require.NoError(t, service.Logout(ctx, session.RefreshToken))
	require.NoError(t, service.Logout(ctx, "unknown-token"))
	require.NoError(t, service.Logout(ctx, ""))
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	service, store, _ := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	// Two more families via login.
	_, err := service.Login(ctx, "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	_, err = service.Login(ctx, "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	require.Equal(t, 3, store.activeTokensForUser(session.User.ID))

	require.NoError(t, service.LogoutAll(ctx, session.User.ID))
	require.Equal(t, 0, store.activeTokensForUser(session.User.ID))
}

func TestForgotPasswordSendsResetLink(t *testing.T) {
	service, _, mailer := newTestService()
	registerTestUser(t, service)

	require.NoError(t, service.ForgotPassword(context.Background(), "alice@example.com"))
	require.Equal(t, 1, mailer.count())

	mail := mailer.last()
	require.Equal(t, "alice@example.com", mail.To)
	require.Contains(t, mail.Body, "/reset-password?token=")
}

func TestForgotPasswordUnknownEmailSilent(t *testing.T) {
	service, _, mailer := newTestService()
	registerTestUser(t, service)

	require.NoError(t, service.ForgotPassword(context.Background(), "nobody@example.com"))
	require.Equal(t, 0, mailer.count())
}

func TestForgotPasswordInvalidatesPriorToken(t *testing.T) {
	service, _, mailer := newTestService()
	registerTestUser(t, service)
	ctx := context.Background()

	require.NoError(t, service.ForgotPassword(ctx, "alice@example.com"))
	first := resetTokenFromMail(t, mailer.last())

	require.NoError(t, service.ForgotPassword(ctx, "alice@example.com"))
	second := resetTokenFromMail(t, mailer.last())
	require.NotEqual(t, first, second)

	require.ErrorIs(t, service.ResetPassword(ctx, first, "NewPassw0rd"), ErrResetTokenInvalid)
	require.NoError(t, service.ResetPassword(ctx, second, "NewPassw0rd"))
}

func TestForgotPasswordMailFailureStaysSilent(t *testing.T) {
	service, _, mailer := newTestService()
	registerTestUser(t, service)
	mailer.fail = errors.New("smtp down")

	require.NoError(t, service.ForgotPassword(context.Background(), "alice@example.com"))
}

func TestResetPassword(t *testing.T) {
	service, store, mailer := newTestService()
	session := registerTestUser(t, service)
	ctx := context.Background()

	require.NoError(t, service.ForgotPassword(ctx, "alice@example.com"))
	token := resetTokenFromMail(t, mailer.last())

	require.NoError(t, service.ResetPassword(ctx, token, "NewPassw0rd"))

	// Old password out, new password in.
	_, err := service.Login(ctx, "alice@example.com", "Sup3rSecret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = service.Login(ctx, "alice@example.com", "NewPassw0rd")
	require.NoError(t, err)

	// Every pre-existing session is revoked.
	store.mu.Lock()
	original := store.tokens[hashToken(session.RefreshToken)]
	store.mu.Unlock()
	require.True(t, original.Revoked)

	// The token is single use.
	require.ErrorIs(t, service.ResetPassword(ctx, token, "AnotherPass1"), ErrResetTokenInvalid)
}

func TestResetPasswordUnknownToken(t *testing.T) {
	service, _, _ := newTestService()

	require.ErrorIs(t, service.ResetPassword(context.Background(), "deadbeef", "NewPassw0rd"), ErrResetTokenInvalid)
	require.ErrorIs(t, service.ResetPassword(context.Background(), "", "NewPassw0rd"), ErrResetTokenInvalid)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	service, store, mailer := newTestService()
	registerTestUser(t, service)
	ctx := context.Background()

	require.NoError(t, service.ForgotPassword(ctx, "alice@example.com"))
	token := resetTokenFromMail(t, mailer.last())

	hash := hashToken(token)
	store.mu.Lock()
	record := store.resets[hash]
	record.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.resets[hash] = record
	store.mu.Unlock()

	require.ErrorIs(t, service.ResetPassword(ctx, token, "NewPassw0rd"), ErrResetTokenInvalid)
}

func resetTokenFromMail(t *testing.T, mail sentMail) string {
	t.Helper()

	_, after, found := strings.Cut(mail.Body, "token=")
	require.True(t, found)
	token, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(token)
}
