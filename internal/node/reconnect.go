package node

import (
	"math"
	"time"
)

// ReconnectBackoff controls how a node client reconnects after its WS
// connection drops. Parameters and the delay formula are ported exactly
// from the node SDK's Rust reconnect policy.
type ReconnectBackoff struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxAttempts   uint32 // 0 means unlimited
}

// DefaultReconnectBackoff is the policy used when a node client is built
// without an explicit override: 1s initial delay, 2x factor, 60s cap,
// unlimited attempts.
func DefaultReconnectBackoff() ReconnectBackoff {
	return ReconnectBackoff{
		InitialDelay:  time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		MaxAttempts:   0,
	}
}

// DelayForAttempt computes the delay before the given 0-indexed attempt,
// including ~25% jitter spread deterministically across attempts via a
// Knuth multiplicative hash so a reconnect storm doesn't re-synchronize.
func (b ReconnectBackoff) DelayForAttempt(attempt uint32) time.Duration {
	baseMS := float64(b.InitialDelay.Milliseconds())
	delayMS := baseMS * math.Pow(b.BackoffFactor, float64(attempt))
	cappedMS := delayMS
	if maxMS := float64(b.MaxDelay.Milliseconds()); cappedMS > maxMS {
		cappedMS = maxMS
	}

	jitter := cappedMS * 0.25 * pseudoRandomFraction(attempt)
	return time.Duration(cappedMS+jitter) * time.Millisecond
}

// ShouldGiveUp reports whether attempt exceeds MaxAttempts. MaxAttempts
// of 0 means never give up.
func (b ReconnectBackoff) ShouldGiveUp(attempt uint32) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

// pseudoRandomFraction is a cheap deterministic "random" fraction in
// [0, 1] keyed on the attempt number — not cryptographically secure, just
// enough to spread reconnect storms across concurrently-failing nodes.
func pseudoRandomFraction(attempt uint32) float64 {
	const knuth = 2654435761
	hash := attempt * knuth // wraps on overflow, matching Rust's wrapping_mul
	return float64(hash) / float64(^uint32(0))
}
