// Package wait turns "check a condition against the UI until it holds or
// give up" into one blocking call with deterministic timeout semantics.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the poll interval used when a Spec leaves it unset.
const DefaultInterval = 500 * time.Millisecond

// Spec describes one wait.
type Spec struct {
	// Description names the predicate in failures, e.g. "visible css=#login".
	Description string
	// Timeout is the wall-clock budget. A non-positive timeout evaluates the
	// condition exactly once.
	Timeout time.Duration
	// Interval is the pause between evaluations.
	Interval time.Duration
}

func (s Spec) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

// Condition is evaluated repeatedly. It returns (value, true, nil) once
// satisfied and (_, false, nil) for "not yet". A non-nil error aborts the
// wait and is returned unchanged.
type Condition[T any] func(ctx context.Context) (T, bool, error)

// TimeoutError reports that a wait expired without the condition holding.
type TimeoutError struct {
	Description string
	Timeout     time.Duration
	Elapsed     time.Duration
	Polls       int
	// LastErr is set when the final evaluation was cut off by the deadline.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s (%d polls)", e.Timeout, e.Description, e.Polls)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Await evaluates cond until it succeeds or spec.Timeout elapses and returns
// the first successful value. It never fails before the timeout, and every
// evaluation runs under a context that expires one interval after it, so a
// hung condition cannot hold the caller past Timeout + Interval.
//
// Cancellation of ctx ends the wait early with ctx's error.
func Await[T any](ctx context.Context, spec Spec, cond Condition[T]) (T, error) {
	var zero T
	interval := spec.interval()
	start := time.Now()
	deadline := start.Add(spec.Timeout)

	evalCtx, cancel := context.WithDeadline(ctx, deadline.Add(interval))
	defer cancel()

	polls := 0
	for {
		polls++
		v, ok, err := cond(evalCtx)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) && evalCtx.Err() != nil {
				return zero, &TimeoutError{
					Description: spec.Description,
					Timeout:     spec.Timeout,
					Elapsed:     time.Since(start),
					Polls:       polls,
					LastErr:     err,
				}
			}
			return zero, err
		}
		if ok {
			return v, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, &TimeoutError{
				Description: spec.Description,
				Timeout:     spec.Timeout,
				Elapsed:     time.Since(start),
				Polls:       polls,
			}
		}

		pause := interval
		if remaining < pause {
			// One final evaluation lands exactly on the deadline.
			pause = remaining
		}
		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}

// Until is Await for conditions that produce no value.
func Until(ctx context.Context, spec Spec, cond func(ctx context.Context) (bool, error)) error {
	_, err := Await(ctx, spec, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := cond(ctx)
		return struct{}{}, ok, err
	})
	return err
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
