// Package retry runs an operation again with exponential backoff while it
// keeps failing with errors marked as transient.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy controls how often and how far apart attempts are made.
type Policy struct {
	MaxAttempts int           // 0 retries until the context ends
	InitialWait time.Duration // delay after the first failure
	MaxWait     time.Duration // upper bound for a single delay
	Multiplier  float64
	Jitter      float64 // fraction of the delay added or removed at random
}

// DefaultPolicy suits catalog connections and ranged object reads.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// TransientError marks an error worth another attempt.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string { return e.Err.Error() }

func (e TransientError) Unwrap() error { return e.Err }

// Transient wraps err so that Do retries it. A nil error stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return TransientError{Err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked Transient.
func IsTransient(err error) bool {
	var te TransientError
	return errors.As(err, &te)
}

// Delay returns the backoff before the attempt following attempt n (1-based).
func (p Policy) Delay(n int) time.Duration {
	wait := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxWait > 0 && wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (rand.Float64()*2 - 1)
	}
	if wait < 0 {
		return 0
	}
	return time.Duration(wait)
}

// Do calls fn until it succeeds, returns a non-transient error, the policy
// runs out of attempts or ctx is done. The returned error is unwrapped from
// TransientError.
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for functions producing a value.
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return zero, err
		}
		lastErr = err

		if p.MaxAttempts != 0 && attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	var te TransientError
	if errors.As(lastErr, &te) {
		return zero, te.Err
	}
	return zero, lastErr
}
