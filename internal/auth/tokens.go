package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type accessClaims struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the two token categories with distinct
// secrets, so leaking one secret cannot forge the other token type.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenCodec(accessSecret, refreshSecret string) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
	}
}

func (c *TokenCodec) WithTTLs(accessTTL, refreshTTL time.Duration) {
	if accessTTL > 0 {
		c.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		c.refreshTTL = refreshTTL
	}
}

func (c *TokenCodec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *TokenCodec) SignAccess(user User) (string, error) {
	now := time.Now().UTC()
	claims := accessClaims{
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}

	return encoded, nil
}

// VerifyAccess returns the identity carried by a valid access token. Every
// failure mode (malformed, bad signature, expired, wrong type) collapses
// into ErrTokenInvalid so callers cannot probe which one occurred.
func (c *TokenCodec) VerifyAccess(raw string) (Identity, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.accessSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}
	if claims.TokenType != tokenTypeAccess || claims.Subject == "" {
		return Identity{}, ErrTokenInvalid
	}

	return Identity{
		ID:       claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}

// SignRefresh embeds only the user id and a fresh jti nonce: the nonce makes
// every token string distinct even within one family.
func (c *TokenCodec) SignRefresh(userID, jti string) (string, error) {
	now := time.Now().UTC()
	claims := refreshClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	return encoded, nil
}

// VerifyRefresh returns the owning user id and jti of a valid refresh token.
func (c *TokenCodec) VerifyRefresh(raw string) (userID, jti string, err error) {
	claims := &refreshClaims{}
	token, parseErr := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.refreshSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if parseErr != nil || !token.Valid {
		return "", "", ErrTokenInvalid
	}
	if claims.TokenType != tokenTypeRefresh || claims.Subject == "" {
		return "", "", ErrTokenInvalid
	}

	return claims.Subject, claims.ID, nil
}

// hashToken is the at-rest form of refresh and reset tokens: rows store the
// sha256 of the raw string, never the string itself.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
