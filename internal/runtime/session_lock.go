// Package runtime provides per-session concurrency control for the turn
// runtime: a run lock that allows one in-flight turn plus one queued
// waiter per session, and a cancel-token map the runtime loop polls to stop
// a turn early. Ported from original_source's
// crates/gateway/src/runtime/{session_lock,cancel}.rs.
package runtime

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionBusy is returned by SessionLockMap.Acquire when a session
// already has a turn running and a waiter queued.
var ErrSessionBusy = errors.New("session is busy: a turn is already in progress")

// sessionSemaphore stands in for tokio's Semaphore(1): held tracks whether
// a turn currently holds the slot, waiting tracks whether a second caller
// is already queued (at most one), and release wakes a waiter when the
// holder lets go.
type sessionSemaphore struct {
	mu      sync.Mutex
	held    bool
	waiting bool
	freed   chan struct{}
}

// SessionLockMap ensures only one turn runs per session at a time.
type SessionLockMap struct {
	mu    sync.Mutex
	locks map[string]*sessionSemaphore
}

// NewSessionLockMap returns an empty SessionLockMap.
func NewSessionLockMap() *SessionLockMap {
	return &SessionLockMap{locks: make(map[string]*sessionSemaphore)}
}

func (m *SessionLockMap) semaphoreFor(sessionKey string) *sessionSemaphore {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[sessionKey]
	if !ok {
		sem = &sessionSemaphore{}
		m.locks[sessionKey] = sem
	}
	return sem
}

// Release returns the run lock to its session, waking any queued waiter.
type Release func()

// Acquire blocks until the caller holds the run lock for sessionKey.
// A session with a turn already running and a waiter queued returns
// ErrSessionBusy immediately rather than growing the queue further.
// Cancelling ctx before the lock is acquired returns ctx.Err().
func (m *SessionLockMap) Acquire(ctx context.Context, sessionKey string) (Release, error) {
	sem := m.semaphoreFor(sessionKey)

	for {
		sem.mu.Lock()
		if !sem.held {
			sem.held = true
			sem.mu.Unlock()
			return m.release(sem), nil
		}
		if sem.waiting {
			sem.mu.Unlock()
			return nil, ErrSessionBusy
		}
		sem.waiting = true
		wake := make(chan struct{})
		sem.freed = wake
		sem.mu.Unlock()

		select {
		case <-wake:
			sem.mu.Lock()
			sem.waiting = false
			sem.mu.Unlock()
			// loop back around: try to claim the now-free slot
		case <-ctx.Done():
			sem.mu.Lock()
			sem.waiting = false
			sem.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

func (m *SessionLockMap) release(sem *sessionSemaphore) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			sem.mu.Lock()
			sem.held = false
			wake := sem.freed
			sem.freed = nil
			sem.mu.Unlock()
			if wake != nil {
				close(wake)
			}
		})
	}
}

// SessionCount reports the number of tracked session keys, held or idle
// (monitoring only).
func (m *SessionLockMap) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// PruneIdle drops tracked sessions with no turn currently running and no
// queued waiter, so the map does not grow unbounded over the gateway's
// lifetime.
func (m *SessionLockMap) PruneIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, sem := range m.locks {
		sem.mu.Lock()
		idle := !sem.held && !sem.waiting
		sem.mu.Unlock()
		if idle {
			delete(m.locks, key)
		}
	}
}
