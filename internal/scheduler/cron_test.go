package scheduler

import (
	"testing"
	"time"
)

func TestCronDue_EveryMinute(t *testing.T) {
	loc := time.UTC
	at := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	due, err := cronDue("* * * * *", loc, at)
	if err != nil {
		t.Fatalf("cronDue: %v", err)
	}
	if !due {
		t.Fatal("every-minute expression should be due at any minute")
	}
}

func TestCronFiredMinutes_Hourly(t *testing.T) {
	loc := time.UTC
	since := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	until := time.Date(2026, 7, 30, 13, 0, 0, 0, time.UTC)

	fired, err := cronFiredMinutes("0 * * * *", loc, since, until)
	if err != nil {
		t.Fatalf("cronFiredMinutes: %v", err)
	}
	// Hourly at minute 0: 11:00, 12:00, 13:00 are in (since, until].
	if len(fired) != 3 {
		t.Fatalf("fired = %v, want 3 entries", fired)
	}
}

func TestCronFiredMinutes_NoGap(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 30, 12, 0, 30, 0, time.UTC)
	fired, err := cronFiredMinutes("* * * * *", loc, now, now)
	if err != nil {
		t.Fatalf("cronFiredMinutes: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("fired = %v, want none for a zero-length window", fired)
	}
}

func TestCronFiredMinutes_InvalidExpr(t *testing.T) {
	_, err := cronFiredMinutes("not a cron expr", time.UTC, time.Now(), time.Now())
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
