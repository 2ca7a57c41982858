package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomhq/loomgate/internal/agent"
	"github.com/loomhq/loomgate/internal/runtime"
)

// Lane groups RunRequests that share a concurrency budget: interactive
// channel traffic ("main"), cron-fired runs, subagent announce callbacks,
// and delegate-tool invocations each get their own ceiling so a burst in
// one doesn't starve the others.
type Lane string

const (
	LaneMain     Lane = "main"
	LaneCron     Lane = "cron"
	LaneSubagent Lane = "subagent"
	LaneDelegate Lane = "delegate"
)

// LaneConfig sets a lane's concurrency ceiling.
type LaneConfig struct {
	Lane          Lane
	MaxConcurrent int
}

// DefaultLanes returns the package's default per-lane ceilings.
func DefaultLanes() []LaneConfig {
	return []LaneConfig{
		{Lane: LaneMain, MaxConcurrent: 16},
		{Lane: LaneCron, MaxConcurrent: 4},
		{Lane: LaneSubagent, MaxConcurrent: 8},
		{Lane: LaneDelegate, MaxConcurrent: 8},
	}
}

// QueueConfig sets the ceiling applied to a lane absent from the
// configured list (a caller-supplied lane name the Scheduler has not seen
// before still gets a working default rather than being rejected).
type QueueConfig struct {
	DefaultMaxConcurrent int
}

// DefaultQueueConfig returns the package's fallback lane ceiling.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{DefaultMaxConcurrent: 8}
}

// RunFunc resolves and executes one turn. Implementations typically look
// up the target agent.Loop from the request's session key and call its
// Run method.
type RunFunc func(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)

// Outcome is delivered on the channel returned by Schedule/ScheduleWithOpts
// once the run completes (or fails).
type Outcome struct {
	Result *agent.RunResult
	Err    error
}

// ScheduleOpts overrides a lane's default concurrency ceiling for one
// call, e.g. a per-channel configured maxConcurrent.
type ScheduleOpts struct {
	MaxConcurrent int
}

// tokenEstimateFunc reports (estimated prompt tokens, context window) for
// a session key, used by the adaptive throttle.
type tokenEstimateFunc func(sessionKey string) (int, int)

// adaptiveThrottleThreshold is the context-window utilization fraction
// above which the adaptive throttle stops queuing a second caller for the
// same session and instead returns Busy immediately — avoids stacking up
// waiters that would all race a pending summarization once the first
// finishes.
const adaptiveThrottleThreshold = 0.85

type laneState struct {
	sem chan struct{}
}

// Scheduler is the single entry point every RunRequest flows through,
// whether it originates from an inbound channel message, a cron tick, a
// subagent announce callback, or a delegate-tool call. It combines a
// per-lane concurrency ceiling with the per-session exclusivity already
// provided by runtime.SessionLockMap.
type Scheduler struct {
	runFunc   RunFunc
	lanes     map[Lane]*laneState
	laneMu    sync.Mutex
	defaultMax int

	locks *runtime.SessionLockMap

	tokenEstimateMu sync.RWMutex
	tokenEstimate   tokenEstimateFunc

	cancelMu sync.Mutex
	cancels  map[string][]context.CancelFunc
}

// NewScheduler constructs a Scheduler with lanes pre-provisioned from
// configs, falling back to qcfg.DefaultMaxConcurrent for any lane first
// seen at call time.
func NewScheduler(configs []LaneConfig, qcfg QueueConfig, runFunc RunFunc) *Scheduler {
	s := &Scheduler{
		runFunc:    runFunc,
		lanes:      make(map[Lane]*laneState),
		defaultMax: qcfg.DefaultMaxConcurrent,
		locks:      runtime.NewSessionLockMap(),
		cancels:    make(map[string][]context.CancelFunc),
	}
	for _, c := range configs {
		s.lanes[c.Lane] = &laneState{sem: make(chan struct{}, maxInt(c.MaxConcurrent, 1))}
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Stop is a no-op placeholder for symmetry with the teacher's other
// long-lived services (cronStore.Stop(), heartbeatSvc.Stop()); Scheduler
// itself owns no background goroutine of its own — callers that also
// construct an Engine stop that separately.
func (s *Scheduler) Stop() {}

// SetTokenEstimateFunc installs the adaptive-throttle token estimator.
func (s *Scheduler) SetTokenEstimateFunc(f func(sessionKey string) (int, int)) {
	s.tokenEstimateMu.Lock()
	s.tokenEstimate = f
	s.tokenEstimateMu.Unlock()
}

func (s *Scheduler) laneFor(lane Lane, maxConcurrent int) *laneState {
	s.laneMu.Lock()
	defer s.laneMu.Unlock()
	ls, ok := s.lanes[lane]
	if !ok {
		ceiling := maxConcurrent
		if ceiling <= 0 {
			ceiling = s.defaultMax
		}
		ls = &laneState{sem: make(chan struct{}, maxInt(ceiling, 1))}
		s.lanes[lane] = ls
	}
	return ls
}

// Schedule runs req through lane with that lane's configured concurrency
// ceiling, returning a channel that receives exactly one Outcome.
func (s *Scheduler) Schedule(ctx context.Context, lane Lane, req agent.RunRequest) <-chan Outcome {
	return s.ScheduleWithOpts(ctx, lane, req, ScheduleOpts{})
}

// ScheduleWithOpts is Schedule with a per-call concurrency override
// (applied only the first time a given lane name is seen).
func (s *Scheduler) ScheduleWithOpts(ctx context.Context, lane Lane, req agent.RunRequest, opts ScheduleOpts) <-chan Outcome {
	out := make(chan Outcome, 1)
	ls := s.laneFor(lane, opts.MaxConcurrent)

	go func() {
		select {
		case ls.sem <- struct{}{}:
		case <-ctx.Done():
			out <- Outcome{Err: ctx.Err()}
			return
		}
		defer func() { <-ls.sem }()

		acquireCtx := ctx
		if s.nearContextLimit(req.SessionKey) {
			// Adaptive throttle: don't queue a second waiter for a session
			// already close to its context window; fail fast instead of
			// piling up behind an imminent summarization.
			var cancel context.CancelFunc
			acquireCtx, cancel = context.WithTimeout(ctx, 0)
			defer cancel()
		}

		release, err := s.locks.Acquire(acquireCtx, req.SessionKey)
		if err != nil {
			out <- Outcome{Err: err}
			return
		}
		defer release()

		runCtx, cancel := context.WithCancel(ctx)
		s.registerCancel(req.SessionKey, cancel)
		defer s.unregisterCancel(req.SessionKey, cancel)

		result, err := s.runFunc(runCtx, req)
		out <- Outcome{Result: result, Err: err}
	}()

	return out
}

func (s *Scheduler) registerCancel(sessionKey string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancels[sessionKey] = append(s.cancels[sessionKey], cancel)
	s.cancelMu.Unlock()
}

func (s *Scheduler) unregisterCancel(sessionKey string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	fns := s.cancels[sessionKey]
	for i, fn := range fns {
		if funcsEqual(fn, cancel) {
			fns = append(fns[:i], fns[i+1:]...)
			break
		}
	}
	if len(fns) == 0 {
		delete(s.cancels, sessionKey)
	} else {
		s.cancels[sessionKey] = fns
	}
}

// funcsEqual compares the code pointers that %p prints for a and b —
// context.CancelFunc values aren't otherwise comparable. Every CancelFunc
// from context.WithCancel shares one code pointer, so any two compare equal;
// a session key has at most one registered cancel, since ScheduleWithOpts
// registers it only while holding the session lock.
func funcsEqual(a, b context.CancelFunc) bool {
	return fmt.Sprintf("%p", a) == fmt.Sprintf("%p", b)
}

// CancelOneSession cancels the oldest in-flight run for sessionKey. Returns
// false if no run is currently active for that session.
func (s *Scheduler) CancelOneSession(sessionKey string) bool {
	s.cancelMu.Lock()
	fns := s.cancels[sessionKey]
	if len(fns) == 0 {
		s.cancelMu.Unlock()
		return false
	}
	cancel := fns[0]
	s.cancelMu.Unlock()
	cancel()
	return true
}

// CancelSession cancels every registered run for sessionKey (at most one,
// because a run registers its cancel only while holding the session lock).
// Returns false if none were active.
func (s *Scheduler) CancelSession(sessionKey string) bool {
	s.cancelMu.Lock()
	fns := append([]context.CancelFunc(nil), s.cancels[sessionKey]...)
	s.cancelMu.Unlock()
	if len(fns) == 0 {
		return false
	}
	for _, cancel := range fns {
		cancel()
	}
	return true
}

func (s *Scheduler) nearContextLimit(sessionKey string) bool {
	s.tokenEstimateMu.RLock()
	f := s.tokenEstimate
	s.tokenEstimateMu.RUnlock()
	if f == nil {
		return false
	}
	tokens, window := f(sessionKey)
	if window <= 0 {
		return false
	}
	return float64(tokens)/float64(window) >= adaptiveThrottleThreshold
}
