// Package retry runs startup and client operations with exponential backoff
// and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration // zero means uncapped

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Startup suits dependencies that may come up after the service does.
var Startup = Policy{Attempts: 6, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}

// Do calls fn until it succeeds, returns a PermanentError, runs out of
// attempts, or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			break
		}

		wait := p.backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// backoff doubles BaseDelay per attempt, caps at MaxDelay and applies
// +-25% jitter.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := int64(d / 4)
	if jitter <= 0 {
		return d
	}
	return d - time.Duration(jitter) + time.Duration(rand.Int64N(2*jitter+1))
}

// Do runs fn under a policy with no delay cap and no retry hook.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{Attempts: attempts, BaseDelay: baseDelay}.Do(ctx, func(context.Context) error { return fn() })
}
