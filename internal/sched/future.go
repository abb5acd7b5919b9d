package sched

import (
	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
)

// Future is a typed handle to one coroutine's terminal value. Multiple
// Futures may observe the same coroutine; Poll re-reads the cached terminal
// value each time rather than consuming it.
type Future[T any] struct {
	sched *Scheduler
	id    CoroutineId
}

// Poll returns the coroutine's value once it has completed. While the
// coroutine is still running it returns errs.TryAgain, which is never meant
// to escape to an end user — only Await and WhenAny observe it directly.
func (f *Future[T]) Poll(now clock.Instant) (T, error) {
	var zero T
	st, ok := f.sched.statusOf(f.id)
	if !ok {
		return zero, errs.Newf(errs.KindResourceNotFound, "coroutine %d not found", f.id)
	}
	if st.kind != statusCompleted {
		return zero, errs.TryAgain
	}
	if st.err != nil {
		return zero, st.err
	}
	if st.value == nil {
		return zero, nil
	}
	v, ok := st.value.(T)
	if !ok {
		return zero, errs.Newf(errs.KindMalformed, "future: terminal value type mismatch")
	}
	return v, nil
}

// ID returns the underlying coroutine identity, mostly useful for logging.
func (f *Future[T]) ID() CoroutineId { return f.id }
