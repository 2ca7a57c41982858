package cron

import (
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	c := DefaultRetryConfig()
	if c.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", c.MaxRetries)
	}
	if c.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", c.BaseDelay)
	}
	if c.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", c.MaxDelay)
	}
}

func TestDelayForAttempt_GrowsAndCaps(t *testing.T) {
	c := DefaultRetryConfig()
	if got := c.DelayForAttempt(0); got != 2*time.Second {
		t.Errorf("DelayForAttempt(0) = %v, want 2s", got)
	}
	if got := c.DelayForAttempt(1); got != 4*time.Second {
		t.Errorf("DelayForAttempt(1) = %v, want 4s", got)
	}
	if got := c.DelayForAttempt(10); got != 30*time.Second {
		t.Errorf("DelayForAttempt(10) = %v, want capped at 30s", got)
	}
}
