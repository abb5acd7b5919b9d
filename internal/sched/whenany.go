package sched

import (
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
)

// WhenAny resolves to the first successful member future. It is driven
// repeatedly (not consumed after one resolution) so it can back a
// long-lived background-work set like the TCP peer's: new futures are
// Add()ed over time, and every successful completion is reported once
// without disturbing the members still in flight.
type WhenAny[T any] struct {
	members []*Future[T]
}

// NewWhenAny constructs an empty WhenAny.
func NewWhenAny[T any]() *WhenAny[T] {
	return &WhenAny[T]{}
}

// Add appends a pending future to the set.
func (w *WhenAny[T]) Add(f *Future[T]) {
	w.members = append(w.members, f)
}

// Len reports how many members are still being tracked.
func (w *WhenAny[T]) Len() int { return len(w.members) }

// Poll polls every member in registration order. The first member to report
// success is removed and returned; the rest keep running untouched (their
// eventual terminal values are simply never surfaced through this WhenAny).
// If every member has terminated and none succeeded, the last observed
// error is returned and the set is cleared. Otherwise Poll reports pending
// (done == false).
func (w *WhenAny[T]) Poll(now clock.Instant) (value T, err error, done bool) {
	if len(w.members) == 0 {
		var zero T
		return zero, nil, false
	}
	var lastErr error
	allDone := true
	successAt := -1
	var successVal T

	for i, f := range w.members {
		v, e := f.Poll(now)
		if e == nil {
			successAt = i
			successVal = v
			break
		}
		if errs.Is(e, errs.KindTryAgain) {
			allDone = false
			continue
		}
		lastErr = e
	}

	if successAt >= 0 {
		w.members = append(w.members[:successAt], w.members[successAt+1:]...)
		return successVal, nil, true
	}
	if allDone {
		w.members = nil
		var zero T
		return zero, lastErr, true
	}
	var zero T
	return zero, nil, false
}
