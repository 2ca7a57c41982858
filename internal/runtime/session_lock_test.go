package runtime

import (
	"context"
	"testing"
	"time"
)

func TestSessionLockMap_Sequential(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	release1()

	release2, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	release2()
}

func TestSessionLockMap_DifferentSessionsConcurrent(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	r1, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire s1: %v", err)
	}
	r2, err := m.Acquire(ctx, "s2")
	if err != nil {
		t.Fatalf("acquire s2: %v", err)
	}

	if got := m.SessionCount(); got != 2 {
		t.Fatalf("SessionCount() = %d, want 2", got)
	}

	r1()
	r2()
}

func TestSessionLockMap_SameSessionWaits(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	release1, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	done := make(chan struct{})
	go func() {
		release2, err := m.Acquire(ctx, "s1")
		if err != nil {
			t.Errorf("acquire 2: %v", err)
			close(done)
			return
		}
		release2()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("waiter completed before the first turn released its lock")
	default:
	}

	release1()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never proceeded after release")
	}
}

func TestSessionLockMap_ThirdCallerBusy(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	waiterReady := make(chan struct{})
	go func() {
		close(waiterReady)
		m.Acquire(ctx, "s1")
	}()
	<-waiterReady
	time.Sleep(20 * time.Millisecond)

	_, err = m.Acquire(ctx, "s1")
	if err != ErrSessionBusy {
		t.Fatalf("Acquire() err = %v, want ErrSessionBusy", err)
	}
}

func TestSessionLockMap_ContextCancel(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "s1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(cancelCtx, "s1")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Acquire() err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() never returned after ctx cancel")
	}
}

func TestSessionLockMap_PruneIdle(t *testing.T) {
	m := NewSessionLockMap()
	ctx := context.Background()

	release, err := m.Acquire(ctx, "held")
	if err != nil {
		t.Fatalf("acquire held: %v", err)
	}
	release2, err := m.Acquire(ctx, "idle")
	if err != nil {
		t.Fatalf("acquire idle: %v", err)
	}
	release2()

	m.PruneIdle()
	if got := m.SessionCount(); got != 1 {
		t.Fatalf("SessionCount() after prune = %d, want 1", got)
	}

	release()
}
