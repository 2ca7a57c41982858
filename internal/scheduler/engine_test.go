package scheduler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/delivery"
)

func newTestEngine(t *testing.T, runFunc RunFunc) (*Engine, *ScheduleStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewScheduleStore(filepath.Join(dir, "schedules.json"))
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	deliverer, err := delivery.NewStore(filepath.Join(dir, "deliveries.json"))
	if err != nil {
		t.Fatalf("delivery.NewStore: %v", err)
	}
	return NewEngine(store, runFunc, deliverer), store
}

func TestEngine_FireOnceCollapsesGap(t *testing.T) {
	var runs int32
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		atomic.AddInt32(&runs, 1)
		return &agent.RunResult{Content: "ok"}, nil
	})

	now := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	sc, err := store.Create(&Schedule{
		AgentID:   "agent1",
		Name:      "hourly",
		CronExpr:  "0 * * * *",
		Timezone:  "UTC",
		Missed:    MissedFireOnce,
		CreatedAt: now.Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.evaluate(context.Background(), sc, now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("runs = %d, want 1 (FireOnce collapses the gap)", got)
	}

	updated, _ := store.Get(sc.ID)
	if !updated.LastFired.Equal(now) {
		t.Fatalf("LastFired = %v, want %v", updated.LastFired, now)
	}
}

func TestEngine_FireAllCatchesUpBounded(t *testing.T) {
	var runs int32
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		atomic.AddInt32(&runs, 1)
		return &agent.RunResult{Content: "ok"}, nil
	})

	now := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	sc, err := store.Create(&Schedule{
		AgentID:    "agent1",
		Name:       "hourly",
		CronExpr:   "0 * * * *",
		Timezone:   "UTC",
		Missed:     MissedFireAll,
		MaxCatchUp: 2,
		CreatedAt:  now.Add(-5 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.evaluate(context.Background(), sc, now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// 5 missed hourly firings bounded to MaxCatchUp=2.
	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("runs = %d, want 2 (bounded by MaxCatchUp)", got)
	}
}

func TestEngine_SkipAdvancesWithoutFiring(t *testing.T) {
	var runs int32
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		atomic.AddInt32(&runs, 1)
		return &agent.RunResult{Content: "ok"}, nil
	})

	now := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	sc, err := store.Create(&Schedule{
		AgentID:   "agent1",
		Name:      "hourly",
		CronExpr:  "0 * * * *",
		Timezone:  "UTC",
		Missed:    MissedSkip,
		CreatedAt: now.Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := engine.evaluate(context.Background(), sc, now); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 0 {
		t.Fatalf("runs = %d, want 0 for MissedSkip", got)
	}
	updated, _ := store.Get(sc.ID)
	if !updated.LastFired.Equal(now) {
		t.Fatalf("LastFired = %v, want %v (watermark still advances)", updated.LastFired, now)
	}
}

func TestEngine_ConsecutiveFailuresDisableSchedule(t *testing.T) {
	failErr := context.DeadlineExceeded
	engine, store := newTestEngine(t, func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
		return nil, failErr
	})

	now := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)
	sc, err := store.Create(&Schedule{
		AgentID:   "agent1",
		Name:      "hourly",
		CronExpr:  "0 * * * *",
		Timezone:  "UTC",
		Missed:    MissedFireOnce,
		CreatedAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < maxConsecutiveFailures; i++ {
		firedAt := now.Add(time.Duration(i) * time.Hour)
		engine.fire(context.Background(), sc, firedAt)
		sc, _ = store.Get(sc.ID)
	}

	if sc.Status != ScheduleError {
		t.Fatalf("Status = %v, want ScheduleError after %d consecutive failures", sc.Status, maxConsecutiveFailures)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "s3cret"
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	good := hex.EncodeToString(mac.Sum(nil))

	if !verifyWebhookSignature(secret, body, "sha256="+good) {
		t.Fatal("valid signature rejected")
	}
	if verifyWebhookSignature(secret, body, "sha256=deadbeef") {
		t.Fatal("invalid signature accepted")
	}
	if verifyWebhookSignature(secret, body, "not-prefixed") {
		t.Fatal("missing sha256= prefix should be rejected")
	}
	if verifyWebhookSignature(secret, []byte(`{"hello":"mars"}`), "sha256="+good) {
		t.Fatal("signature for different body should be rejected")
	}
}
