package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"cloudarc/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	UserID      string `json:"user_id"`
}

type updateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "status must be pending, in_progress or completed")
		return
	}

	tasks, err := h.service.List(r.Context(), filter)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body createRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" || len(body.Title) > 255 {
		writeError(w, http.StatusBadRequest, "title is required and must be at most 255 characters")
		return
	}
	if body.Status == "" {
		body.Status = StatusPending
	}
	if !ValidStatus(body.Status) {
		writeError(w, http.StatusBadRequest, "status must be pending, in_progress or completed")
		return
	}

	// Regular users create tasks for themselves; only admins may assign.
	ownerID := actor.ID
	if body.UserID != "" && body.UserID != actor.ID {
		if actor.Role != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		ownerID = body.UserID
	}

	t, err := h.service.Create(r.Context(), CreateInput{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
		UserID:      ownerID,
	}, actor)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	var body updateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Title != nil && (strings.TrimSpace(*body.Title) == "" || len(*body.Title) > 255) {
		writeError(w, http.StatusBadRequest, "title must be 1-255 characters")
		return
	}
	if body.Status != nil && !ValidStatus(*body.Status) {
		writeError(w, http.StatusBadRequest, "status must be pending, in_progress or completed")
		return
	}

	if !h.canTouch(w, r, id, actor) {
		return
	}

	t, err := h.service.Update(r.Context(), id, Patch{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
	}, actor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task id is required")
		return
	}

	if !h.canTouch(w, r, id, actor) {
		return
	}

	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// canTouch enforces owner-or-admin on mutations. Writes the response itself
// when the check fails.
func (h *Handler) canTouch(w http.ResponseWriter, r *http.Request, id string, actor auth.Identity) bool {
	if actor.Role == auth.RoleAdmin {
		return true
	}

	existing, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "task not found")
			return false
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return false
	}
	if existing.UserID != actor.ID {
		writeError(w, http.StatusForbidden, "access denied")
		return false
	}

	return true
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
