package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
)

type Handler struct {
	recorder *Recorder
}

func NewHandler(recorder *Recorder) *Handler {
	return &Handler{recorder: recorder}
}

// List serves GET /admin/audit-logs. Admin gating happens in the route
// middleware chain.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := clamp(parseIntOr(query.Get("limit"), 20), 1, 100)
	page := parseIntOr(query.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	records, total, err := h.recorder.List(
		r.Context(),
		strings.TrimSpace(query.Get("actor_id")),
		strings.TrimSpace(query.Get("action")),
		limit,
		offset,
	)
	if err != nil {
		sentry.CaptureException(err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit logs"})
		return
	}

	pages := (total + int64(limit) - 1) / int64(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  records,
		"page":  page,
		"limit": limit,
		"total": total,
		"pages": pages,
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

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
