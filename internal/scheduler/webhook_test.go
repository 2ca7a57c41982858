package scheduler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/delivery"
)

func idFromQuery(r *http.Request) string {
	return r.URL.Query().Get("id")
}

func TestTriggerHandler_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/schedules/trigger?id=missing", nil)
	rec := httptest.NewRecorder()
	engine.TriggerHandler(idFromQuery).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerHandler_DisabledConflict(t *testing.T) {
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})
	sc, err := store.Create(&Schedule{AgentID: "a1", CronExpr: "* * * * *", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Update(sc.ID, func(s *Schedule) { s.Status = ScheduleDisabled }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/schedules/trigger?id="+sc.ID, nil)
	rec := httptest.NewRecorder()
	engine.TriggerHandler(idFromQuery).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestTriggerHandler_InvalidSignature(t *testing.T) {
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{}, nil
	})
	sc, err := store.Create(&Schedule{AgentID: "a1", CronExpr: "* * * * *", Timezone: "UTC", WebhookSecret: "top-secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/schedules/trigger?id="+sc.ID, strings.NewReader("{}"))
	req.Header.Set(webhookSignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	engine.TriggerHandler(idFromQuery).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTriggerHandler_AcceptedAndRuns(t *testing.T) {
	var ran bool
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		ran = true
		return &agent.RunResult{Content: "done"}, nil
	})
	sc, err := store.Create(&Schedule{AgentID: "a1", CronExpr: "* * * * *", Timezone: "UTC", WebhookSecret: "top-secret"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	body := []byte(`{"k":"v"}`)
	mac := hmac.New(sha256.New, []byte(sc.WebhookSecret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/schedules/trigger?id="+sc.ID, strings.NewReader(string(body)))
	req.Header.Set(webhookSignatureHeader, sig)
	rec := httptest.NewRecorder()
	engine.TriggerHandler(idFromQuery).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	if !ran {
		t.Fatal("expected the trigger to invoke RunFunc synchronously")
	}
}

func TestTriggerHandler_NoSecretSkipsVerification(t *testing.T) {
	dir := t.TempDir()
	store, err := NewScheduleStore(filepath.Join(dir, "schedules.json"))
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	deliverer, err := delivery.NewStore(filepath.Join(dir, "deliveries.json"))
	if err != nil {
		t.Fatalf("delivery.NewStore: %v", err)
	}
	engine := NewEngine(store, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return &agent.RunResult{Content: "done"}, nil
	}, deliverer)

	sc, err := store.Create(&Schedule{AgentID: "a1", CronExpr: "* * * * *", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/schedules/trigger?id="+sc.ID, strings.NewReader("anything"))
	rec := httptest.NewRecorder()
	engine.TriggerHandler(idFromQuery).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	_ = time.Now()
}
