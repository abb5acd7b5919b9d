// Package clock provides the monotonic Instant/Duration arithmetic used
// throughout uswire. Arithmetic saturates at zero rather than going
// negative, per spec.md §3.
package clock

import "time"

// Instant is a monotonic point in time, supplied externally on every
// advance_clock tick. The engine never reads the wall clock itself.
type Instant = time.Time

// Duration is a span of time; RTOs, timer wheel wakeups and retry budgets
// are all expressed in it.
type Duration = time.Duration

// Zero is the smallest representable Duration used by arithmetic here.
const Zero Duration = 0

// SaturatingAdd returns i.Add(d) with no overflow check of its own — Go's
// time.Time addition does not overflow for any realistic duration, so this
// exists mainly to give callers a single place for Instant+Duration
// arithmetic.
func SaturatingAdd(i Instant, d Duration) Instant {
	return i.Add(d)
}

// SaturatingSub returns the Duration between a (later) and b (earlier),
// clamped to zero instead of going negative. Used anywhere spec.md requires
// "now - deadline" style arithmetic that must never report negative elapsed
// time (e.g. delayed-ACK threshold checks, RTO elapsed checks).
func SaturatingSub(a, b Instant) Duration {
	d := a.Sub(b)
	if d < 0 {
		return 0
	}
	return d
}

// Before reports whether a happens strictly before b.
func Before(a, b Instant) bool { return a.Before(b) }

// AtOrAfter reports whether a happens at or after b (the "due" test used by
// the scheduler and timer checks throughout).
func AtOrAfter(a, b Instant) bool { return !a.Before(b) }
