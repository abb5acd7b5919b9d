// Package sched is the cooperative coroutine scheduler described in
// spec.md §4.1: a single ready/sleeper set driven entirely by external
// advance_clock(now) ticks, with no thread, no I/O, and at most one
// coroutine Active at any instant (I3).
//
// A Coroutine is emulated with a goroutine that blocks on an unbuffered
// channel between resumes — the idiomatic Go rendering of "any stackful
// coroutine facility" (spec.md §9). The scheduler only ever has one such
// goroutine unblocked at a time, so the single-Active invariant holds even
// though the implementation is backed by real OS threads.
package sched

import (
	"sync"
	"time"

	"github.com/kestrelnet/uswire/internal/clock"
	"github.com/kestrelnet/uswire/internal/errs"
)

// CoroutineId is an opaque 64-bit nonce, unique per Scheduler lifetime.
type CoroutineId uint64

type statusKind uint8

const (
	statusAsleep statusKind = iota
	statusActive
	statusCompleted
)

// status is the tagged CoroutineStatus variant from spec.md §3.
type status struct {
	kind  statusKind
	wake  clock.Instant // valid when kind == statusAsleep
	value any           // valid when kind == statusCompleted
	err   error         // valid when kind == statusCompleted
}

// yieldMsg is what a coroutine body sends back to the scheduler at a
// suspension point: either Yield(Option<Duration>) or Complete(Result).
type yieldMsg struct {
	suspend  bool // true: yielded and wants to sleep; false: terminal
	duration clock.Duration
	value    any
	err      error
}

// Ctx is the handle a coroutine body uses to suspend itself. It is the
// only way to yield control back to the scheduler.
type Ctx struct {
	resumeCh chan clock.Instant
	yieldCh  chan yieldMsg
	now      clock.Instant
}

// Now returns the Instant as of the coroutine's most recent resume.
func (c *Ctx) Now() clock.Instant { return c.now }

// Yield suspends the coroutine until at least now+d has elapsed. Yielding
// zero is rewritten by the scheduler to one nanosecond (I4) so a spinning
// coroutine still yields control instead of starving its siblings.
func (c *Ctx) Yield(d clock.Duration) {
	c.yieldCh <- yieldMsg{suspend: true, duration: d}
	c.now = <-c.resumeCh
}

// Body is the computation a coroutine runs; it returns its terminal value
// (dynamically typed at this layer — Future[T] erases the cast at await
// sites) or an error.
type Body func(c *Ctx) (any, error)

type coroutine struct {
	id       CoroutineId
	st       status
	resumeCh chan clock.Instant
	yieldCh  chan yieldMsg
}

// Scheduler owns the ready queue and wakeup times for every spawned
// coroutine. It has no threads or timers of its own beyond what the
// embedder drives via AdvanceClock.
type Scheduler struct {
	mu         sync.Mutex
	now        clock.Instant
	nextID     CoroutineId
	order      []CoroutineId
	coroutines map[CoroutineId]*coroutine
}

// New constructs a Scheduler whose clock starts at now.
func New(now clock.Instant) *Scheduler {
	return &Scheduler{
		now:        now,
		coroutines: make(map[CoroutineId]*coroutine),
	}
}

// Now returns the Instant observed on the most recent AdvanceClock call.
func (s *Scheduler) Now() clock.Instant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// spawn registers body as a new coroutine with initial status
// AsleepUntil(now) so it runs on the very next tick, and starts its
// goroutine (which blocks immediately waiting for its first resume).
func (s *Scheduler) spawn(body Body) CoroutineId {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	co := &coroutine{
		id:       id,
		st:       status{kind: statusAsleep, wake: s.now},
		resumeCh: make(chan clock.Instant),
		yieldCh:  make(chan yieldMsg),
	}
	s.coroutines[id] = co
	s.order = append(s.order, id)
	s.mu.Unlock()

	go func() {
		now := <-co.resumeCh
		ctx := &Ctx{resumeCh: co.resumeCh, yieldCh: co.yieldCh, now: now}
		val, err := body(ctx)
		co.yieldCh <- yieldMsg{suspend: false, value: val, err: err}
	}()

	return id
}

// Spawn registers body as a new coroutine and returns a typed Future for
// its eventual result.
func Spawn[T any](s *Scheduler, body func(c *Ctx) (T, error)) *Future[T] {
	id := s.spawn(func(c *Ctx) (any, error) {
		return body(c)
	})
	return &Future[T]{sched: s, id: id}
}

// AdvanceClock drives the scheduler one tick: every coroutine whose
// AsleepUntil is due is resumed exactly once, in registration order.
func (s *Scheduler) AdvanceClock(now clock.Instant) {
	s.mu.Lock()
	s.now = now
	ids := make([]CoroutineId, len(s.order))
	copy(ids, s.order)
	s.mu.Unlock()

	for _, id := range ids {
		s.mu.Lock()
		co, ok := s.coroutines[id]
		if ok && co.st.kind == statusActive {
			s.mu.Unlock()
			panic("sched: attempt to resume an active coroutine")
		}
		if !ok || co.st.kind != statusAsleep || now.Before(co.st.wake) {
			s.mu.Unlock()
			continue
		}
		co.st = status{kind: statusActive}
		resumeCh, yieldCh := co.resumeCh, co.yieldCh
		s.mu.Unlock()

		resumeCh <- now
		msg := <-yieldCh

		s.mu.Lock()
		if !msg.suspend {
			co.st = status{kind: statusCompleted, value: msg.value, err: msg.err}
		} else {
			d := msg.duration
			if d <= 0 {
				d = time.Nanosecond
			}
			co.st = status{kind: statusAsleep, wake: now.Add(d)}
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) statusOf(id CoroutineId) (status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	co, ok := s.coroutines[id]
	if !ok {
		return status{}, false
	}
	return co.st, true
}

// Len reports the number of coroutines ever spawned on this scheduler,
// completed ones included: entries are never removed, and the scheduler
// offers no API to remove them.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// YieldUntil suspends the calling coroutine, polling predicate once per
// tick, until predicate holds or timeout elapses (if non-nil). It returns
// whether predicate held.
func YieldUntil(c *Ctx, predicate func(now clock.Instant) bool, timeout *clock.Duration) bool {
	var deadline clock.Instant
	hasDeadline := timeout != nil
	if hasDeadline {
		deadline = c.Now().Add(*timeout)
	}
	for {
		now := c.Now()
		if predicate(now) {
			return true
		}
		if hasDeadline && clock.AtOrAfter(now, deadline) {
			return false
		}
		c.Yield(0)
	}
}

// Await suspends the calling coroutine until future resolves, retrying
// every tick while it reports TryAgain (pending). If timeout is non-nil and
// elapses first, Await returns a Timeout error.
func Await[T any](c *Ctx, future *Future[T], timeout *clock.Duration) (T, error) {
	var deadline clock.Instant
	hasDeadline := timeout != nil
	if hasDeadline {
		deadline = c.Now().Add(*timeout)
	}
	for {
		now := c.Now()
		v, err := future.Poll(now)
		if err == nil {
			return v, nil
		}
		if !errs.Is(err, errs.KindTryAgain) {
			return v, err
		}
		if hasDeadline && clock.AtOrAfter(now, deadline) {
			var zero T
			return zero, errs.Timeout
		}
		c.Yield(0)
	}
}
