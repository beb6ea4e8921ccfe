package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "username must be 3-30 alphanumeric characters")
		return
	}
	if !emailRegex.MatchString(strings.ToLower(body.Email)) {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "email format is invalid")
		return
	}
	if msg, ok := validatePassword(body.Password); !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", msg)
		return
	}

	session, err := h.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		writeServiceError(w, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.Email) == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "email and password are required")
		return
	}

	session, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	session, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeServiceError(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Logout(r.Context(), body.RefreshToken); err != nil {
		writeServiceError(w, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated caller. Must sit
// behind Middleware.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrUnauthenticated.Code, ErrUnauthenticated.Message)
		return
	}

	if err := h.service.LogoutAll(r.Context(), identity.ID); err != nil {
		writeServiceError(w, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !emailRegex.MatchString(strings.ToLower(strings.TrimSpace(body.Email))) {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "email format is invalid")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email); err != nil {
		// Still answer with the generic shape: enumeration safety beats
		// error visibility here. The failure goes to sentry instead.
		sentry.CaptureException(err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if strings.TrimSpace(body.Token) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "token is required")
		return
	}
	if msg, ok := validatePassword(body.Password); !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", msg)
		return
	}

	if err := h.service.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		writeServiceError(w, err, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password has been reset"})
}

// validatePassword mirrors the registration policy: 8-72 bytes (bcrypt
// truncates beyond 72), at least one uppercase letter and one digit.
func validatePassword(password string) (string, bool) {
	if len(password) < 8 || len(password) > 72 {
		return "password must be 8-72 characters", false
	}

	var hasUpper, hasDigit bool
	for _, r := range password {
		if unicode.IsUpper(r) {
			hasUpper = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	if !hasUpper || !hasDigit {
		return "password must contain an uppercase letter and a number", false
	}

	return "", true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_001", "invalid json body")
		return false
	}

	return true
}

// writeServiceError maps domain errors to responses. Reuse detection is
// reported exactly like any other invalid token.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, ErrTokenReuse) {
		writeError(w, ErrTokenInvalid.Status, ErrTokenInvalid.Code, ErrTokenInvalid.Message)
		return
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message)
		return
	}

	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, "SERVER_001", fallback)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
