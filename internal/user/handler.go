package user

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"cloudarc/internal/audit"
	"cloudarc/internal/auth"
	"cloudarc/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo     *Repository
	recorder *audit.Recorder
}

func NewHandler(repo *Repository, recorder *audit.Recorder) *Handler {
	return &Handler{repo: repo, recorder: recorder}
}

// List serves GET /users. Admin only (enforced in the route chain).
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := clamp(parseIntOr(query.Get("limit"), 20), 1, 100)
	offset := parseIntOr(query.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	users, total, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":   users,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get serves GET /users/{id}. Self or admin.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}

	u, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

type updateRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// Update serves PUT /users/{id}. Self or admin.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Username != nil {
		trimmed := strings.TrimSpace(*body.Username)
		if len(trimmed) < 3 || len(trimmed) > 30 {
			writeError(w, http.StatusBadRequest, "username must be 3-30 characters")
			return
		}
		body.Username = &trimmed
	}
	if body.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*body.Email))
		if !strings.Contains(normalized, "@") {
			writeError(w, http.StatusBadRequest, "email format is invalid")
			return
		}
		body.Email = &normalized
	}

	u, err := h.repo.Update(r.Context(), id, Patch{Username: body.Username, Email: body.Email})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already taken")
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username already taken")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update user")
		}
		return
	}

	h.recordAudit(r, actor, "user.update", id)
	writeJSON(w, http.StatusOK, u)
}

// Delete serves DELETE /users/{id}. Admin only (enforced in the route
// chain).
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	h.recordAudit(r, actor, "user.delete", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selfOrAdmin(w http.ResponseWriter, r *http.Request) (auth.Identity, string, bool) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, "", false
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return auth.Identity{}, "", false
	}

	if actor.ID != id && actor.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "access denied")
		return auth.Identity{}, "", false
	}

	return actor, id, true
}

func (h *Handler) recordAudit(r *http.Request, actor auth.Identity, action, resourceID string) {
	if h.recorder == nil {
		return
	}
	h.recorder.Log(r.Context(), audit.Entry{
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Action:     action,
		Resource:   "user",
		ResourceID: resourceID,
		IP:         observability.ClientIP(r),
		RequestID:  observability.RequestIDFrom(r.Context()),
	})
}

func parseIntOr(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
