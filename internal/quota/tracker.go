package quota

import (
	"fmt"
	"sync"
	"time"
)

// bucketKey is (agent_id, utc_day): usage resets at UTC midnight, matching
// the domain crate's "daily" framing with no per-agent timezone override.
type bucketKey struct {
	agentID string
	utcDay  string
}

type bucket struct {
	tokens  uint64
	costUSD float64
}

// Tracker gates turns against a Config and records usage from completed
// model calls, keyed per agent per UTC day. It is consulted before session
// lock acquisition: a turn that would exceed its agent's quota never enters
// the turn runtime at all.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[bucketKey]*bucket
}

// NewTracker builds a Tracker over cfg. An empty Config leaves every agent
// uncapped.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, buckets: make(map[bucketKey]*bucket)}
}

// SetConfig swaps in new limits without losing accumulated usage.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

func utcDayOf(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// Status is one agent's current daily usage against its configured limits.
type Status struct {
	AgentID      string   `json:"agent_id"`
	UTCDay       string   `json:"utc_day"`
	TokensUsed   uint64   `json:"tokens_used"`
	TokensLimit  *uint64  `json:"tokens_limit,omitempty"`
	CostUSD      float64  `json:"cost_usd"`
	CostLimitUSD *float64 `json:"cost_limit_usd,omitempty"`
	Exceeded     bool     `json:"exceeded"`
}

// ErrQuotaExceeded is returned by Allow when agentID has used up its daily
// token or cost budget.
type ErrQuotaExceeded struct {
	Status Status
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("quota exceeded for agent %q (tokens=%d cost_usd=%.4f)", e.Status.AgentID, e.Status.TokensUsed, e.Status.CostUSD)
}

// Allow is the pre-turn gate: it reports whether agentID may start a new
// turn right now, given today's accumulated usage. Call before session
// lock acquisition so a doomed turn never queues behind a running one.
func (t *Tracker) Allow(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.statusLocked(agentID, time.Now())
	if status.Exceeded {
		return &ErrQuotaExceeded{Status: status}
	}
	return nil
}

// Record adds tokens and costUSD to agentID's bucket for today, called
// once a model call completes (streaming or not) with its final usage.
func (t *Tracker) Record(agentID string, tokens uint64, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := bucketKey{agentID: agentID, utcDay: utcDayOf(time.Now())}
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{}
		t.buckets[key] = b
	}
	b.tokens += tokens
	b.costUSD += costUSD
}

func (t *Tracker) statusLocked(agentID string, now time.Time) Status {
	day := utcDayOf(now)
	key := bucketKey{agentID: agentID, utcDay: day}
	b := t.buckets[key]

	limits := t.cfg.limitsFor(agentID)
	status := Status{AgentID: agentID, UTCDay: day, TokensLimit: limits.DailyTokens, CostLimitUSD: limits.DailyCostUSD}
	if b != nil {
		status.TokensUsed = b.tokens
		status.CostUSD = b.costUSD
	}
	if limits.DailyTokens != nil && status.TokensUsed >= *limits.DailyTokens {
		status.Exceeded = true
	}
	if limits.DailyCostUSD != nil && status.CostUSD >= *limits.DailyCostUSD {
		status.Exceeded = true
	}
	return status
}

// Snapshot returns every agent with recorded usage today (or a configured
// per-agent override), for the quota introspection endpoint.
func (t *Tracker) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	day := utcDayOf(now)
	seen := make(map[string]bool)
	var out []Status

	for key := range t.buckets {
		if key.utcDay != day || seen[key.agentID] {
			continue
		}
		seen[key.agentID] = true
		out = append(out, t.statusLocked(key.agentID, now))
	}
	for agentID := range t.cfg.PerAgent {
		if seen[agentID] {
			continue
		}
		seen[agentID] = true
		out = append(out, t.statusLocked(agentID, now))
	}
	return out
}

// PruneOldDays drops buckets for days other than today, bounding Tracker's
// memory to one day per agent. Call periodically (e.g. from a daily
// scheduled maintenance tick); never required for correctness since Allow/
// Record only ever touch today's bucket.
func (t *Tracker) PruneOldDays() {
	t.mu.Lock()
	defer t.mu.Unlock()
	today := utcDayOf(time.Now())
	for key := range t.buckets {
		if key.utcDay != today {
			delete(t.buckets, key)
		}
	}
}
