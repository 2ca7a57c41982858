package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/loomhq/loomgate/internal/scheduler"
)

// SchedulesHandler serves CRUD over a scheduler.ScheduleStore plus the
// HMAC-verified webhook trigger endpoint backed by a scheduler.Engine.
type SchedulesHandler struct {
	store  *scheduler.ScheduleStore
	engine *scheduler.Engine
	token  string
}

// NewSchedulesHandler creates a handler backed by store/engine.
func NewSchedulesHandler(store *scheduler.ScheduleStore, engine *scheduler.Engine, token string) *SchedulesHandler {
	return &SchedulesHandler{store: store, engine: engine, token: token}
}

// RegisterRoutes registers schedule routes on mux. The trigger endpoint is
// deliberately left off the bearer-auth wrapper: it authenticates via the
// schedule's own webhook secret instead, so external callers (e.g. a
// third-party webhook sender) never need the gateway token.
func (h *SchedulesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/schedules", h.auth(h.handleList))
	mux.HandleFunc("POST /v1/schedules", h.auth(h.handleCreate))
	mux.HandleFunc("GET /v1/schedules/{id}", h.auth(h.handleGet))
	mux.HandleFunc("PATCH /v1/schedules/{id}", h.auth(h.handleUpdate))
	mux.HandleFunc("DELETE /v1/schedules/{id}", h.auth(h.handleDelete))
	mux.HandleFunc("POST /v1/schedules/{id}/trigger", h.engine.TriggerHandler(func(r *http.Request) string {
		return r.PathValue("id")
	}))
}

func (h *SchedulesHandler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && !tokensEqual(extractBearerToken(r), h.token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (h *SchedulesHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list := h.store.List()
	views := make([]scheduler.ScheduleView, 0, len(list))
	for _, sc := range list {
		views = append(views, sc.View())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": views})
}

func (h *SchedulesHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "schedule not found"})
		return
	}
	writeJSON(w, http.StatusOK, sc.View())
}

func (h *SchedulesHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	var sc scheduler.Schedule
	if err := json.Unmarshal(body, &sc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid schedule"})
		return
	}
	created, err := h.store.Create(&sc)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, created.View())
}

func (h *SchedulesHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	var patch scheduler.Schedule
	if err := json.Unmarshal(body, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid schedule"})
		return
	}
	updated, err := h.store.Update(r.PathValue("id"), func(s *scheduler.Schedule) {
		if patch.Name != "" {
			s.Name = patch.Name
		}
		if patch.CronExpr != "" {
			s.CronExpr = patch.CronExpr
		}
		if patch.Timezone != "" {
			s.Timezone = patch.Timezone
		}
		if patch.Status != "" {
			s.Status = patch.Status
		}
		if patch.Message != "" {
			s.Message = patch.Message
		}
		if patch.Fetch != nil {
			s.Fetch = patch.Fetch
		}
		if patch.Missed != "" {
			s.Missed = patch.Missed
		}
		s.Target = patch.Target
	})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, updated.View())
}

func (h *SchedulesHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
