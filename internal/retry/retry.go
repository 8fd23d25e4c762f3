// Package retry provides the bounded polling combinator used by session
// hydration and bootstrap. Every polling loop in the system shares one
// policy shape: a fixed interval, a maximum attempt count, and an optional
// acceptance predicate on the result.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed or was rejected by the
// acceptance predicate.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy bounds a polling loop.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Do invokes op until it returns a nil error and an accepted value, up to
// p.MaxAttempts times, sleeping p.Interval between attempts. A nil accept
// treats any nil-error result as success. Context cancellation aborts the
// loop immediately with the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), accept func(T) bool) (T, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, ErrExhausted
	}
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(p.Interval):
			}
		}
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if accept == nil || accept(v) {
			return v, nil
		}
	}
	if lastErr != nil {
		return zero, errors.Join(ErrExhausted, lastErr)
	}
	return zero, ErrExhausted
}
