package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cloudarc/internal/audit"
	"cloudarc/internal/mail"
	"cloudarc/internal/observability"
)

const (
	bcryptCost      = 12
	defaultResetTTL = 30 * time.Minute
)

// Service is the credential lifecycle state machine: register, login,
// refresh with rotation and reuse detection, logout, logout-all and the
// password reset flow. It holds no mutable state of its own; correctness
// under concurrency rests on the stores' conditional updates.
type Service struct {
	users   CredentialStore
	refresh RefreshTokenStore
	resets  PasswordResetStore
	codec   *TokenCodec
	mailer  mail.Mailer
	logger  *observability.Logger

	// recorder is optional; security events still land in the log stream
	// when it is absent.
	recorder *audit.Recorder

	resetTTL     time.Duration
	resetBaseURL string

	// dummyHash keeps login latency flat when the email is unknown: the
	// same-cost bcrypt comparison runs either way.
	dummyHash []byte
}

func NewService(
	users CredentialStore,
	refresh RefreshTokenStore,
	resets PasswordResetStore,
	codec *TokenCodec,
	mailer mail.Mailer,
	logger *observability.Logger,
) *Service {
	dummyHash, err := bcrypt.GenerateFromPassword([]byte("cloudarc-timing-pad"), bcryptCost)
	if err != nil {
		// GenerateFromPassword only fails on an out-of-range cost.
		panic(fmt.Sprintf("generate dummy hash: %v", err))
	}

	return &Service{
		users:        users,
		refresh:      refresh,
		resets:       resets,
		codec:        codec,
		mailer:       mailer,
		logger:       logger,
		resetTTL:     defaultResetTTL,
		resetBaseURL: "http://localhost:3000",
		dummyHash:    dummyHash,
	}
}

func (s *Service) WithAuditRecorder(recorder *audit.Recorder) {
	s.recorder = recorder
}

func (s *Service) WithResetConfig(resetTTL time.Duration, resetBaseURL string) {
	if resetTTL > 0 {
		s.resetTTL = resetTTL
	}
	if strings.TrimSpace(resetBaseURL) != "" {
		s.resetBaseURL = strings.TrimRight(strings.TrimSpace(resetBaseURL), "/")
	}
}

// Register creates a user and opens a fresh session family. Email is checked
// before username so an input colliding on both reports the email conflict.
func (s *Service) Register(ctx context.Context, username, email, password string) (Session, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	_, err := s.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return Session{}, ErrEmailTaken
	case !errors.Is(err, sql.ErrNoRows):
		return Session{}, fmt.Errorf("check email: %w", err)
	}

	taken, err := s.users.UsernameTaken(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return Session{}, ErrUsernameTaken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	user := User{
		ID:           id.String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(passwordHash),
		Role:         RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user_registered", map[string]any{"user_id": user.ID})

	return s.issueSession(ctx, user, uuid.NewString())
}

// Login verifies credentials and opens a new session family. A bcrypt
// comparison of identical cost runs whether or not the email exists, and the
// resulting error never says which check failed.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("find user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user, uuid.NewString())
}

// Refresh rotates a refresh token: the presented token is revoked and a
// successor is issued in the same family. Presenting an already-revoked
// token is treated as theft evidence and kills the entire family.
func (s *Service) Refresh(ctx context.Context, rawToken string) (Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Session{}, ErrTokenInvalid
	}

	claimedUserID, _, err := s.codec.VerifyRefresh(rawToken)
	if err != nil {
		return Session{}, ErrTokenInvalid
	}

	tokenHash := hashToken(rawToken)
	record, err := s.refresh.FindRefreshToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Never existed, forged, or already swept.
			return Session{}, ErrTokenInvalid
		}
		return Session{}, fmt.Errorf("find refresh token: %w", err)
	}
	if record.UserID != claimedUserID {
		return Session{}, ErrTokenInvalid
	}

	won, err := s.refresh.RevokeIfActive(ctx, tokenHash)
	if err != nil {
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !won {
		// Reuse detected. The family-wide revoke must land before the error
		// returns, and no new tokens are issued on this path.
		if err := s.refresh.RevokeFamily(ctx, record.Family); err != nil {
			return Session{}, fmt.Errorf("revoke token family: %w", err)
		}
		s.logger.Error("security_event", map[string]any{
			"event":   "refresh_token_reuse",
			"user_id": record.UserID,
			"family":  record.Family,
		})
		s.recordAudit(ctx, record.UserID, "auth.token_reuse", map[string]any{"family": record.Family})
		return Session{}, ErrTokenReuse
	}

	if time.Now().UTC().After(record.ExpiresAt) {
		return Session{}, ErrTokenInvalid
	}

	// Re-fetch the user so the new access token carries current identity
	// and role.
	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrTokenInvalid
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	return s.issueSession(ctx, user, record.Family)
}

// Logout revokes exactly the presented token. Revoking an unknown or
// already-revoked token is not an error here.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}

	if _, err := s.refresh.RevokeIfActive(ctx, hashToken(rawToken)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	return nil
}

// LogoutAll revokes every refresh token the user owns, across all families.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.refresh.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}

	s.logger.Info("sessions_revoked", map[string]any{"user_id": userID, "reason": "logout_all"})
	return nil
}

// ForgotPassword issues a single-use reset token and mails a reset link.
// An unknown email succeeds silently; callers present the identical generic
// response either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("find user by email: %w", err)
	}

	if err := s.resets.InvalidateAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("invalidate prior reset tokens: %w", err)
	}

	// An opaque store-backed secret, not a JWT: it is compared only against
	// the database and never decoded.
	rawToken, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	now := time.Now().UTC()
	if err := s.resets.CreatePasswordReset(ctx, PasswordResetToken{
		TokenHash: hashToken(rawToken),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("create reset token: %w", err)
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.resetBaseURL, rawToken)
	body := fmt.Sprintf(
		"Someone requested a password reset for your CloudArc account.\n\n"+
			"Reset your password: %s\n\n"+
			"The link expires in %d minutes. If this wasn't you, ignore this email.",
		resetURL, int(s.resetTTL.Minutes()),
	)
	if err := s.mailer.Send(ctx, user.Email, "Reset your password", body); err != nil {
		// Delivery failure must not break the flow or change the response.
		s.logger.Error("reset_email_failed", map[string]any{"user_id": user.ID, "error": err.Error()})
		sentry.CaptureException(err)
	}

	return nil
}

// ResetPassword consumes a valid reset token, replaces the password hash and
// force-revokes every refresh token the user owns. The token is consumed
// first so a crash mid-flow can only over-revoke, never leave a spent token
// alive.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrResetTokenInvalid
	}

	tokenHash := hashToken(rawToken)
	record, err := s.resets.FindValidPasswordReset(ctx, tokenHash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("find reset token: %w", err)
	}

	consumed, err := s.resets.ConsumeIfUnused(ctx, tokenHash)
	if err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}
	if !consumed {
		return ErrResetTokenInvalid
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, record.UserID, string(passwordHash)); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	// The credential changed; any session could predate the compromise.
	if err := s.refresh.RevokeAllForUser(ctx, record.UserID); err != nil {
		return fmt.Errorf("revoke sessions after reset: %w", err)
	}

	s.logger.Info("sessions_revoked", map[string]any{"user_id": record.UserID, "reason": "password_reset"})
	s.recordAudit(ctx, record.UserID, "auth.password_reset", nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, userID, action string, metadata map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.Log(ctx, audit.Entry{
		ActorID:   userID,
		Action:    action,
		Resource:  "session",
		RequestID: observability.RequestIDFrom(ctx),
		Metadata:  metadata,
	})
}

// issueSession signs an access token and persists a new refresh token in the
// given family.
func (s *Service) issueSession(ctx context.Context, user User, family string) (Session, error) {
	accessToken, err := s.codec.SignAccess(user)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := s.codec.SignRefresh(user.ID, uuid.NewString())
	if err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	if err := s.refresh.CreateRefreshToken(ctx, RefreshToken{
		TokenHash: hashToken(refreshToken),
		UserID:    user.ID,
		Family:    family,
		ExpiresAt: now.Add(s.codec.RefreshTTL()),
		CreatedAt: now,
	}); err != nil {
		return Session{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return Session{
		User:         user.Safe(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
