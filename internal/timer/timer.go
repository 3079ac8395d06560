// Package timer derives a session's remaining time from its persisted start
// time. Nothing here stores remaining time; every value is recomputed from the
// anchor so reloads, client clock drift and network stalls cannot change the
// participant's allotment.
package timer

import "time"

// Deadline is the instant the session's time runs out.
func Deadline(durationMinutes int, start time.Time) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// Remaining returns the whole seconds left, floor-clamped at zero. A now that
// precedes start is treated as start.
func Remaining(durationMinutes int, start, now time.Time) int64 {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	left := time.Duration(durationMinutes)*time.Minute - elapsed
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}

// Expired reports whether no time is left at now.
func Expired(durationMinutes int, start, now time.Time) bool {
	return Remaining(durationMinutes, start, now) == 0
}

// Countdown tracks one session's refresh ticks. It fires its expiry signal on
// the first tick that observes zero remaining and never again.
type Countdown struct {
	durationMinutes int
	start           time.Time
	fired           bool
}

// NewCountdown anchors a countdown at the persisted start time.
func NewCountdown(durationMinutes int, start time.Time) *Countdown {
	return &Countdown{durationMinutes: durationMinutes, start: start}
}

// Tick recomputes the remaining seconds at now. expire is true exactly once,
// on the first tick where the remaining time is zero.
func (c *Countdown) Tick(now time.Time) (remaining int64, expire bool) {
	remaining = Remaining(c.durationMinutes, c.start, now)
	if remaining == 0 && !c.fired {
		c.fired = true
		return 0, true
	}
	return remaining, false
}

// Deadline returns the countdown's deadline.
func (c *Countdown) Deadline() time.Time { return Deadline(c.durationMinutes, c.start) }
