package quota

import "testing"

func uptr(v uint64) *uint64   { return &v }
func fptr(v float64) *float64 { return &v }

func TestTracker_AllowUnderLimit(t *testing.T) {
	tr := NewTracker(Config{DefaultDailyTokens: uptr(1000)})

	if err := tr.Allow("agent1"); err != nil {
		t.Fatalf("Allow: unexpected error %v", err)
	}

	tr.Record("agent1", 500, 0)
	if err := tr.Allow("agent1"); err != nil {
		t.Fatalf("Allow: unexpected error at 500/1000: %v", err)
	}
}

func TestTracker_AllowBlocksAtTokenLimit(t *testing.T) {
	tr := NewTracker(Config{DefaultDailyTokens: uptr(1000)})

	tr.Record("agent1", 1000, 0)

	err := tr.Allow("agent1")
	if err == nil {
		t.Fatal("Allow: expected quota exceeded error")
	}
	var qerr *ErrQuotaExceeded
	if !errorsAs(err, &qerr) {
		t.Fatalf("Allow: expected *ErrQuotaExceeded, got %T", err)
	}
	if !qerr.Status.Exceeded {
		t.Fatal("Status.Exceeded should be true")
	}
}

func TestTracker_AllowBlocksAtCostLimit(t *testing.T) {
	tr := NewTracker(Config{DefaultDailyCostUSD: fptr(1.0)})

	tr.Record("agent1", 10, 1.5)

	if err := tr.Allow("agent1"); err == nil {
		t.Fatal("Allow: expected quota exceeded error from cost limit")
	}
}

func TestTracker_PerAgentOverrideTakesPrecedence(t *testing.T) {
	tr := NewTracker(Config{
		DefaultDailyTokens: uptr(100),
		PerAgent: map[string]AgentQuota{
			"vip": {DailyTokens: uptr(100000)},
		},
	})

	tr.Record("vip", 50000, 0)
	if err := tr.Allow("vip"); err != nil {
		t.Fatalf("Allow: vip should not be capped by default limit: %v", err)
	}

	tr.Record("plain", 150, 0)
	if err := tr.Allow("plain"); err == nil {
		t.Fatal("Allow: plain agent should be capped by the default limit")
	}
}

func TestTracker_UncappedWhenNoConfig(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Record("agent1", 1_000_000, 1000.0)
	if err := tr.Allow("agent1"); err != nil {
		t.Fatalf("Allow: uncapped agent should never be blocked: %v", err)
	}
}

func TestTracker_SnapshotIncludesRecordedAndOverriddenAgents(t *testing.T) {
	tr := NewTracker(Config{
		PerAgent: map[string]AgentQuota{
			"configured-only": {DailyTokens: uptr(10)},
		},
	})
	tr.Record("active", 5, 0.1)

	statuses := tr.Snapshot()
	seen := map[string]Status{}
	for _, s := range statuses {
		seen[s.AgentID] = s
	}

	if _, ok := seen["active"]; !ok {
		t.Fatal("Snapshot should include an agent with recorded usage")
	}
	if _, ok := seen["configured-only"]; !ok {
		t.Fatal("Snapshot should include an agent with only a configured override and no usage")
	}
	if seen["active"].TokensUsed != 5 {
		t.Fatalf("active.TokensUsed = %d, want 5", seen["active"].TokensUsed)
	}
}

func TestTracker_PruneOldDaysKeepsToday(t *testing.T) {
	tr := NewTracker(Config{})
	tr.Record("agent1", 10, 0)

	key := bucketKey{agentID: "agent1", utcDay: "2000-01-01"}
	tr.mu.Lock()
	tr.buckets[key] = &bucket{tokens: 99}
	tr.mu.Unlock()

	tr.PruneOldDays()

	tr.mu.Lock()
	_, staleStillPresent := tr.buckets[key]
	tr.mu.Unlock()
	if staleStillPresent {
		t.Fatal("PruneOldDays should have dropped the stale-day bucket")
	}

	statuses := tr.Snapshot()
	if len(statuses) != 1 || statuses[0].AgentID != "agent1" {
		t.Fatalf("Snapshot after prune = %+v, want only today's agent1 bucket", statuses)
	}
}

// errorsAs avoids importing "errors" just for a single As call in tests.
func errorsAs(err error, target **ErrQuotaExceeded) bool {
	qerr, ok := err.(*ErrQuotaExceeded)
	if !ok {
		return false
	}
	*target = qerr
	return true
}
