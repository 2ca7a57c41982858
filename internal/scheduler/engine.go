package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/delivery"
)

// tickInterval matches spec.md §4.7's "≈30s" cadence.
const tickInterval = 30 * time.Second

const maxConsecutiveFailures = 5

// Engine ticks a ScheduleStore, evaluates due schedules against their
// last_fired watermark in their configured timezone, applies each
// schedule's MissedPolicy, and fires due schedules through RunFunc — the
// same turn-runtime entry point interactive calls use.
type Engine struct {
	store     *ScheduleStore
	runFunc   RunFunc
	deliverer *delivery.Store
	fetcher   *http.Client

	stop chan struct{}
	done chan struct{}
}

// NewEngine wires store's tick loop to runFunc, writing a Delivery via
// deliverer on every completed run.
func NewEngine(store *ScheduleStore, runFunc RunFunc, deliverer *delivery.Store) *Engine {
	return &Engine{
		store:     store,
		runFunc:   runFunc,
		deliverer: deliverer,
		fetcher:   &http.Client{Timeout: 10 * time.Second},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the tick loop in a background goroutine until Stop is called.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the tick loop to exit and waits for it to finish.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	now := time.Now().UTC()
	for _, sc := range e.store.List() {
		if sc.Status != ScheduleEnabled {
			continue
		}
		if err := e.evaluate(context.Background(), sc, now); err != nil {
			slog.Warn("scheduler: tick evaluation failed", "schedule", sc.ID, "error", err)
		}
	}
}

// evaluate resolves sc's missed-policy against the gap since its
// last_fired watermark (or since CreatedAt, for a never-fired schedule)
// and fires 0+ runs accordingly. When at least one minute was due it
// advances last_fired to now; otherwise last_fired is left unchanged.
func (e *Engine) evaluate(ctx context.Context, sc *Schedule, now time.Time) error {
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", sc.Timezone, err)
	}

	since := sc.LastFired
	if since.IsZero() {
		since = sc.CreatedAt
	}

	fired, err := cronFiredMinutes(sc.CronExpr, loc, since, now)
	if err != nil {
		return err
	}
	if len(fired) == 0 {
		return nil
	}

	switch sc.Missed {
	case MissedSkip:
		// fall through to watermark advance only
	case MissedFireOnce:
		e.fire(ctx, sc, fired[len(fired)-1])
	case MissedFireAll:
		maxCatchUp := sc.MaxCatchUp
		if maxCatchUp <= 0 {
			maxCatchUp = defaultMaxCatchUp
		}
		if len(fired) > maxCatchUp {
			slog.Warn("scheduler: missed-fire-all catch-up truncated",
				"schedule", sc.ID, "missed", len(fired), "cap", maxCatchUp)
			fired = fired[len(fired)-maxCatchUp:]
		}
		for _, at := range fired {
			e.fire(ctx, sc, at)
		}
	default:
		e.fire(ctx, sc, fired[len(fired)-1])
	}

	if _, err := e.store.Update(sc.ID, func(s *Schedule) {
		s.LastFired = now
	}); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// fire synthesizes a user message from sc's static Message and/or
// FetchConfig, and runs it through the turn runtime with a system-marked
// actor, recording the outcome and writing a Delivery.
func (e *Engine) fire(ctx context.Context, sc *Schedule, firedAt time.Time) {
	message, err := e.buildMessage(ctx, sc)
	if err != nil {
		slog.Warn("scheduler: fetch failed, firing with static message only", "schedule", sc.ID, "error", err)
	}
	if message == "" {
		message = sc.Message
	}

	req := agent.RunRequest{
		SessionKey: fmt.Sprintf("agent:%s:cron:schedule:%s", sc.AgentID, sc.ID),
		Message:    message,
		Channel:    "schedule",
		ChatID:     sc.Target.ChatID,
		UserID:     sc.Target.UserID,
		RunID:      fmt.Sprintf("schedule:%s:%d", sc.ID, firedAt.Unix()),
		TraceName:  fmt.Sprintf("Schedule [%s] - %s", sc.Name, sc.AgentID),
		TraceTags:  []string{"schedule"},
	}

	result, runErr := e.runFunc(ctx, req)

	if runErr != nil {
		slog.Warn("scheduler: run failed", "schedule", sc.ID, "error", runErr)
		if _, err := e.store.Update(sc.ID, func(s *Schedule) {
			s.ConsecutiveFailures++
			s.LastError = runErr.Error()
			if s.ConsecutiveFailures >= maxConsecutiveFailures {
				s.Status = ScheduleError
			}
		}); err != nil {
			slog.Warn("scheduler: failed to record run failure", "schedule", sc.ID, "error", err)
		}
		return
	}

	if _, err := e.store.Update(sc.ID, func(s *Schedule) {
		s.ConsecutiveFailures = 0
		s.LastError = ""
	}); err != nil {
		slog.Warn("scheduler: failed to clear failure count", "schedule", sc.ID, "error", err)
	}

	if e.deliverer != nil && result != nil {
		if _, err := e.deliverer.Add(delivery.Delivery{
			AgentID:   sc.AgentID,
			Channel:   sc.Target.Channel,
			ChatID:    sc.Target.ChatID,
			UserID:    sc.Target.UserID,
			Content:   result.Content,
			SourceRef: "schedule:" + sc.ID,
		}); err != nil {
			slog.Warn("scheduler: failed to write delivery", "schedule", sc.ID, "error", err)
		}
	}
}

// buildMessage optionally pulls sc.Fetch.URL (capped at MaxBytes, or
// defaultMaxFetchBytes) and folds it into the synthetic message per its
// DigestMode, comparing against sc.Source for "latest"/"diff".
func (e *Engine) buildMessage(ctx context.Context, sc *Schedule) (string, error) {
	if sc.Fetch == nil || sc.Fetch.URL == "" {
		return "", nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.Fetch.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.fetcher.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	maxBytes := int64(sc.Fetch.MaxBytes)
	if maxBytes <= 0 {
		maxBytes = defaultMaxFetchBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", err
	}
	content := string(body)
	hash := sha256.Sum256(body)
	hashHex := hex.EncodeToString(hash[:])

	switch sc.Fetch.Digest {
	case DigestModeLatest:
		if hashHex == sc.Source.LastHash {
			return "", nil // nothing new since last fetch
		}
	case DigestModeDiff:
		if hashHex == sc.Source.LastHash {
			return "", nil
		}
		// A byte-level diff is out of scope here; surface both versions and
		// let the model reason about what changed.
		if sc.Source.LastContent != "" {
			content = "Previous content:\n" + sc.Source.LastContent + "\n\nNew content:\n" + content
		}
	}

	if _, err := e.store.Update(sc.ID, func(s *Schedule) {
		s.Source = SourceState{LastFetchedAt: time.Now().UTC(), LastHash: hashHex, LastContent: string(body)}
	}); err != nil {
		slog.Warn("scheduler: failed to persist fetch state", "schedule", sc.ID, "error", err)
	}

	if sc.Fetch.PromptPrefix != "" {
		return sc.Fetch.PromptPrefix + "\n\n" + content, nil
	}
	return content, nil
}
