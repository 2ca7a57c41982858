package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/loomhq/loomgate/internal/memoryservice"
)

// MemoryHandler proxies POST /v1/memory/search and /ingest to the configured
// memory backend. PATCH and DELETE are named in the route surface but left
// undefined by design — they answer 501 rather than silently no-op.
type MemoryHandler struct {
	client *memoryservice.Client
	token  string
}

// NewMemoryHandler creates a handler backed by client.
func NewMemoryHandler(client *memoryservice.Client, token string) *MemoryHandler {
	return &MemoryHandler{client: client, token: token}
}

// RegisterRoutes registers the memory proxy routes on mux.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/memory/search", h.auth(h.handleSearch))
	mux.HandleFunc("POST /v1/memory/ingest", h.auth(h.handleIngest))
	mux.HandleFunc("PATCH /v1/memory/{id}", h.auth(h.handleUnimplemented))
	mux.HandleFunc("DELETE /v1/memory/{id}", h.auth(h.handleUnimplemented))
}

func (h *MemoryHandler) auth(next http.HandlerFunc) http.HandlerFunc {
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

// handleSearch proxies to POST /search on the memory backend.
//
//	POST /v1/memory/search
func (h *MemoryHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req memoryservice.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	resp, err := h.client.Search(r.Context(), req)
	if err != nil {
		h.writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIngest proxies to POST /ingest on the memory backend.
//
//	POST /v1/memory/ingest
func (h *MemoryHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req memoryservice.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	resp, err := h.client.Ingest(r.Context(), req)
	if err != nil {
		h.writeProxyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUnimplemented answers the PATCH/DELETE surface per spec's open
// question: present in the route table, behavior undefined, so 501 rather
// than a silent no-op.
func (h *MemoryHandler) handleUnimplemented(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "not implemented"})
}

func (h *MemoryHandler) writeProxyError(w http.ResponseWriter, err error) {
	if err == memoryservice.ErrNotConfigured {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "memory backend not configured"})
		return
	}
	slog.Warn("memory backend request failed", "error", err)
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}
