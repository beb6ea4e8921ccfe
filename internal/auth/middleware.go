package auth

import (
	"context"
	"net/http"
	"strings"
)

type identityKey struct{}

// IdentityFrom returns the identity attached by Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware is the request-authentication gate: it verifies the bearer
// access token and attaches the caller's identity to the request context.
func Middleware(codec *TokenCodec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, ErrUnauthenticated.Status, ErrUnauthenticated.Code, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, ErrUnauthenticated.Status, ErrUnauthenticated.Code, "invalid authorization format")
			return
		}

		identity, err := codec.VerifyAccess(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, ErrTokenInvalid.Status, ErrTokenInvalid.Code, ErrTokenInvalid.Message)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route on the caller's role. Must sit behind
// Middleware.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, ErrUnauthenticated.Status, ErrUnauthenticated.Code, ErrUnauthenticated.Message)
			return
		}
		if identity.Role != role {
			writeError(w, ErrForbidden.Status, ErrForbidden.Code, ErrForbidden.Message)
			return
		}

		next.ServeHTTP(w, r)
	})
}
