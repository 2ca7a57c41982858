package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// maxMissedMinutesScanned caps how far back cronFiredMinutes will walk when
// resolving a gap (e.g. after the gateway was down for days): only the
// first maxMissedMinutesScanned minutes after since are checked, and due
// minutes later in the gap are not returned.
const maxMissedMinutesScanned = 10_000

// cronDue reports whether expr matches the minute containing at, evaluated
// in loc. Ported from original_source's cron_matches/cron_next_tz contract
// onto gronx.IsDue, which does the same per-minute match against a
// reference time.
func cronDue(expr string, loc *time.Location, at time.Time) (bool, error) {
	ref := at.In(loc).Truncate(time.Minute)
	return gronx.IsDue(expr, ref)
}

// cronFiredMinutes returns every minute boundary in (since, until] for
// which expr was due, in loc, walking forward minute by minute. Used to
// resolve FireAll/FireOnce semantics over a gap since the schedule's
// last_fired watermark.
func cronFiredMinutes(expr string, loc *time.Location, since, until time.Time) ([]time.Time, error) {
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("scheduler: invalid cron expression %q", expr)
	}

	start := since.In(loc).Truncate(time.Minute).Add(time.Minute)
	end := until.In(loc).Truncate(time.Minute)
	if end.Before(start) {
		return nil, nil
	}

	var fired []time.Time
	minutes := 0
	for t := start; !t.After(end); t = t.Add(time.Minute) {
		minutes++
		if minutes > maxMissedMinutesScanned {
			break
		}
		due, err := gronx.IsDue(expr, t)
		if err != nil {
			return nil, err
		}
		if due {
			fired = append(fired, t)
		}
	}
	return fired, nil
}
