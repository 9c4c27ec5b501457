// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the source clients:
// response classification, Retry-After parsing, and retry with
// exponential backoff.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy controls retries. Delays start at BaseDelay and double each
// attempt up to MaxDelay: with the defaults 500ms, 1s, 2s, ... 10s.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

const (
	defaultMaxRetries = 2
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 10 * time.Second
)

// DefaultPolicy returns two retries starting at 500ms, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: defaultMaxRetries, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

// Backoff returns the delay before retry number attempt (0-based).
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = defaultMaxDelay
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryFunc is one attempt. attempt is 0 for the first call.
type RetryFunc func(ctx context.Context, attempt int) error

// RetryHook is called before sleeping between attempts.
type RetryHook func(attempt int, err error, wait time.Duration)

// Retry calls fn until it succeeds, returns a permanent error, or the
// policy's retries are exhausted. A *RateLimitedError stretches the wait to
// at least its Retry-After hint. Waits use clock so tests can run them on a
// fake clock. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, p Policy, clock clockwork.Clock, fn RetryFunc, onRetry RetryHook) (int, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt + 1, nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return attempt + 1, err
		}
		if attempt >= maxRetries {
			return attempt + 1, err
		}

		wait := p.Backoff(attempt)
		var rl *RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return attempt + 1, fmt.Errorf("waiting to retry after %v: %w", err, ctx.Err())
		case <-clock.After(wait):
		}
	}
}
