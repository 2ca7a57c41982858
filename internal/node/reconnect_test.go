package node

import (
	"testing"
	"time"
)

func TestReconnectBackoff_DefaultValues(t *testing.T) {
	b := DefaultReconnectBackoff()
	if b.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", b.InitialDelay)
	}
	if b.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want 60s", b.MaxDelay)
	}
	if b.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2.0", b.BackoffFactor)
	}
	if b.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %d, want 0 (unlimited)", b.MaxAttempts)
	}
}

func TestReconnectBackoff_DelayGrows(t *testing.T) {
	b := DefaultReconnectBackoff()
	d0 := b.DelayForAttempt(0)
	d1 := b.DelayForAttempt(1)
	d2 := b.DelayForAttempt(2)

	if d1 <= d0 {
		t.Errorf("delay did not grow: d0=%v d1=%v", d0, d1)
	}
	if d2 <= d1 {
		t.Errorf("delay did not grow: d1=%v d2=%v", d1, d2)
	}
}

func TestReconnectBackoff_CappedAtMax(t *testing.T) {
	b := ReconnectBackoff{
		InitialDelay:  10 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 10.0,
		MaxAttempts:   0,
	}
	d := b.DelayForAttempt(10)
	if d > 37500*time.Millisecond {
		t.Errorf("DelayForAttempt(10) = %v, want <= 37.5s (max + 25%% jitter)", d)
	}
}

func TestReconnectBackoff_ShouldGiveUp(t *testing.T) {
	b := ReconnectBackoff{MaxAttempts: 5}
	if b.ShouldGiveUp(4) {
		t.Error("should not give up before reaching MaxAttempts")
	}
	if !b.ShouldGiveUp(5) {
		t.Error("should give up at MaxAttempts")
	}
	if !b.ShouldGiveUp(6) {
		t.Error("should give up past MaxAttempts")
	}
}

func TestReconnectBackoff_UnlimitedNeverGivesUp(t *testing.T) {
	b := DefaultReconnectBackoff()
	if b.ShouldGiveUp(1_000_000) {
		t.Error("unlimited backoff (MaxAttempts=0) should never give up")
	}
}
