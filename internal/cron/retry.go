// Package cron holds the retry-policy primitive shared by the cron
// configuration surface. The cron job store/scheduler themselves are a
// separate, broader concern not covered here (see DESIGN.md).
package cron

import "time"

// RetryConfig controls how many times a failed cron run is retried and
// how the delay between attempts grows.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is 3 retries, starting at 2s and capping at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// DelayForAttempt doubles BaseDelay per attempt (0-indexed), capped at
// MaxDelay.
func (c RetryConfig) DelayForAttempt(attempt int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return delay
}
