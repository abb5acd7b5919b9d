package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/uswire/internal/errs"
)

func TestScheduler_SpawnRunsOnNextTick(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	ran := false
	f := Spawn(s, func(c *Ctx) (int, error) {
		ran = true
		return 42, nil
	})

	require.False(t, ran, "body must not run before the first AdvanceClock")
	_, err := f.Poll(t0)
	require.ErrorIs(t, err, errs.TryAgain)

	s.AdvanceClock(t0)
	require.True(t, ran)

	v, err := f.Poll(t0)
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestScheduler_YieldZeroRewrittenToOneNanosecond(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	resumes := 0
	f := Spawn(s, func(c *Ctx) (int, error) {
		for resumes < 3 {
			resumes++
			c.Yield(0)
		}
		return resumes, nil
	})

	s.AdvanceClock(t0)
	require.Equal(t, 1, resumes)

	// A tick at exactly t0 must NOT re-run the coroutine: it is asleep
	// until t0+1ns.
	s.AdvanceClock(t0)
	require.Equal(t, 1, resumes)

	s.AdvanceClock(t0.Add(time.Nanosecond))
	require.Equal(t, 2, resumes)

	s.AdvanceClock(t0.Add(2 * time.Nanosecond))
	require.Equal(t, 3, resumes)

	s.AdvanceClock(t0.Add(3 * time.Nanosecond))
	v, err := f.Poll(t0.Add(3 * time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestScheduler_SleepDuration(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	var wakeTimes []time.Time
	Spawn(s, func(c *Ctx) (struct{}, error) {
		for i := 0; i < 3; i++ {
			wakeTimes = append(wakeTimes, c.Now())
			c.Yield(10 * time.Millisecond)
		}
		return struct{}{}, nil
	})

	s.AdvanceClock(t0)
	s.AdvanceClock(t0.Add(5 * time.Millisecond)) // not due yet
	require.Len(t, wakeTimes, 1)

	s.AdvanceClock(t0.Add(10 * time.Millisecond))
	require.Len(t, wakeTimes, 2)

	s.AdvanceClock(t0.Add(25 * time.Millisecond))
	require.Len(t, wakeTimes, 3)
}

func TestScheduler_RegistrationOrderWithinATick(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		Spawn(s, func(c *Ctx) (int, error) {
			order = append(order, i)
			return i, nil
		})
	}

	s.AdvanceClock(t0)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestScheduler_ResumingCompletedIsANoOp(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	calls := 0
	f := Spawn(s, func(c *Ctx) (int, error) {
		calls++
		return 7, nil
	})

	s.AdvanceClock(t0)
	s.AdvanceClock(t0.Add(time.Second))
	s.AdvanceClock(t0.Add(2 * time.Second))

	require.Equal(t, 1, calls)
	v, err := f.Poll(t0.Add(2 * time.Second))
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestScheduler_ErrorPropagates(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	f := Spawn(s, func(c *Ctx) (int, error) {
		return 0, errs.ResourceNotFound
	})
	s.AdvanceClock(t0)

	_, err := f.Poll(t0)
	require.ErrorIs(t, err, errs.ResourceNotFound)
}

func TestYieldUntil_PredicateSatisfied(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	flag := false
	var result bool
	Spawn(s, func(c *Ctx) (struct{}, error) {
		result = YieldUntil(c, func(time.Time) bool { return flag }, nil)
		return struct{}{}, nil
	})

	s.AdvanceClock(t0)
	s.AdvanceClock(t0.Add(time.Nanosecond))
	flag = true
	s.AdvanceClock(t0.Add(2 * time.Nanosecond))
	require.True(t, result)
}

func TestYieldUntil_Timeout(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	var result bool
	timeout := 50 * time.Millisecond
	done := false
	Spawn(s, func(c *Ctx) (struct{}, error) {
		result = YieldUntil(c, func(time.Time) bool { return false }, &timeout)
		done = true
		return struct{}{}, nil
	})

	now := t0
	for i := 0; i < 10 && !done; i++ {
		now = now.Add(10 * time.Millisecond)
		s.AdvanceClock(now)
	}
	require.True(t, done)
	require.False(t, result)
}

func TestAwait_PendingThenSuccess(t *testing.T) {
	t0 := time.Unix(0, 0)
	s := New(t0)

	inner := Spawn(s, func(c *Ctx) (int, error) {
		c.Yield(5 * time.Millisecond)
		return 99, nil
	})

	var got int
	var gotErr error
	done := false
	Spawn(s, func(c *Ctx) (struct{}, error) {
		got, gotErr = Await(c, inner, nil)
		done = true
		return struct{}{}, nil
	})

	s.AdvanceClock(t0)
	require.False(t, done)
	// inner is registered before the awaiter, so within the same tick that
	// inner completes, the awaiter (resumed later in registration order)
	// already observes the terminal value.
	s.AdvanceClock(t0.Add(5 * time.Millisecond))
	require.True(t, done)
	require.NoError(t, gotErr)
	require.Equal(t, 99, got)
}
