package http

import (
	"net/http"
	"strconv"

	"github.com/loomhq/loomgate/internal/delivery"
)

// DeliveriesHandler serves the scheduled-run inbox: list/get/mark-read and
// an unread count per agent.
type DeliveriesHandler struct {
	store *delivery.Store
	token string
}

// NewDeliveriesHandler creates a handler backed by store.
func NewDeliveriesHandler(store *delivery.Store, token string) *DeliveriesHandler {
	return &DeliveriesHandler{store: store, token: token}
}

// RegisterRoutes registers delivery routes on mux.
func (h *DeliveriesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/deliveries", h.auth(h.handleList))
	mux.HandleFunc("GET /v1/deliveries/{id}", h.auth(h.handleGet))
	mux.HandleFunc("POST /v1/deliveries/{id}/read", h.auth(h.handleMarkRead))
	mux.HandleFunc("GET /v1/deliveries/unread-count", h.auth(h.handleUnreadCount))
}

func (h *DeliveriesHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && !tokensEqual(extractBearerToken(r), h.token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *DeliveriesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": h.store.List(agentID, limit, offset),
	})
}

func (h *DeliveriesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	d, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "delivery not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DeliveriesHandler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.store.MarkRead(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeliveriesHandler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	writeJSON(w, http.StatusOK, map[string]int{"unread": h.store.UnreadCount(agentID)})
}
