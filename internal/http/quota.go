package http

import (
	"net/http"

	"github.com/loomhq/loomgate/internal/quota"
)

// QuotaHandler serves quota introspection endpoints (managed mode).
type QuotaHandler struct {
	tracker *quota.Tracker
	token   string
}

// NewQuotaHandler creates a handler backed by tracker.
func NewQuotaHandler(tracker *quota.Tracker, token string) *QuotaHandler {
	return &QuotaHandler{tracker: tracker, token: token}
}

// RegisterRoutes registers quota routes on mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/quotas", h.auth(h.handleGetQuotas))
}

func (h *QuotaHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if !tokensEqual(extractBearerToken(r), h.token) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// handleGetQuotas returns current daily quota usage and configured limits
// for every agent with recorded usage today or a per-agent override.
//
//	GET /v1/quotas
func (h *QuotaHandler) handleGetQuotas(w http.ResponseWriter, r *http.Request) {
	statuses := h.tracker.Snapshot()
	if statuses == nil {
		statuses = []quota.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quotas": statuses})
}
