// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit throttles requests to each external source with an
// independent token bucket. Buckets refill continuously at the source's
// published ceiling (N requests per period refills at N/period tokens per
// second, holding at most N tokens).
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// Ceiling is a published request ceiling: Requests per Per.
type Ceiling struct {
	Requests int
	Per      time.Duration
}

// defaultCeiling applies to sources without a configured ceiling.
var defaultCeiling = Ceiling{Requests: 1, Per: time.Second}

func (c Ceiling) valid() bool {
	return c.Requests > 0 && c.Per > 0
}

func (c Ceiling) limit() rate.Limit {
	return rate.Limit(float64(c.Requests) / c.Per.Seconds())
}

// Options configures a Limiter. Zero values select defaults.
type Options struct {
	// WaitTimeout bounds how long Acquire blocks. Zero means no bound other
	// than the caller's context.
	WaitTimeout time.Duration

	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

type bucket struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	capacity     int
	blockedUntil time.Time
}

// Limiter owns one bucket per source. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[types.SourceID]*bucket
	ceilings map[types.SourceID]Ceiling

	waitTimeout time.Duration
	clock       clockwork.Clock
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New creates a Limiter with the given per-source ceilings.
func New(ceilings map[types.SourceID]Ceiling, opts Options) *Limiter {
	l := &Limiter{
		buckets:     make(map[types.SourceID]*bucket),
		ceilings:    make(map[types.SourceID]Ceiling, len(ceilings)),
		waitTimeout: opts.WaitTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	for id, c := range ceilings {
		l.ceilings[id] = c
	}
	return l
}

// FromConfig builds the ceilings map from the source configuration.
func FromConfig(sources map[types.SourceID]types.SourceConfig) map[types.SourceID]Ceiling {
	out := make(map[types.SourceID]Ceiling, len(sources))
	for id, sc := range sources {
		out[id] = Ceiling{Requests: sc.Requests, Per: sc.Per}
	}
	return out
}

func (l *Limiter) bucket(source types.SourceID) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[source]; ok {
		return b
	}
	c, ok := l.ceilings[source]
	if !ok || !c.valid() {
		c = defaultCeiling
	}
	b := &bucket{
		limiter:  rate.NewLimiter(c.limit(), c.Requests),
		capacity: c.Requests,
	}
	// rate.NewLimiter starts full but stamps its refill clock lazily; pin
	// it to the injected clock so fake-clock tests see a full bucket.
	b.limiter.SetBurstAt(l.clock.Now(), c.Requests)
	l.buckets[source] = b
	return b
}

// Acquire takes one token for source, blocking until a token is available.
// If the wait would exceed the configured wait timeout, Acquire returns an
// error wrapping types.ErrRateLimitTimeout without consuming a token.
func (l *Limiter) Acquire(ctx context.Context, source types.SourceID) error {
	b := l.bucket(source)
	now := l.clock.Now()

	b.mu.Lock()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", source, types.ErrRateLimitTimeout)
	}
	delay := r.DelayFrom(now)
	if penalty := b.blockedUntil.Sub(now); penalty > delay {
		delay = penalty
	}
	b.mu.Unlock()

	if l.waitTimeout > 0 && delay > l.waitTimeout {
		r.CancelAt(now)
		l.metrics.RateLimitTimedOut(source)
		l.logger.Warn("rate limit wait exceeds timeout",
			zap.String("source", string(source)),
			zap.Duration("wait", delay),
			zap.Duration("timeout", l.waitTimeout))
		return fmt.Errorf("%s: need to wait %v: %w", source, delay, types.ErrRateLimitTimeout)
	}

	l.metrics.RateLimitWaited(source, delay)
	if delay <= 0 {
		return nil
	}

	l.logger.Debug("waiting for rate limit token",
		zap.String("source", string(source)), zap.Duration("wait", delay))

	select {
	case <-l.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return ctx.Err()
	}
}

// TryAcquire takes one token if one is available right now.
func (l *Limiter) TryAcquire(source types.SourceID) bool {
	b := l.bucket(source)
	now := l.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.blockedUntil) {
		return false
	}
	return b.limiter.AllowN(now, 1)
}

// Penalize records a rate-limit response from source. The bucket is drained
// and no token is granted before now+retryAfter, as if the bucket had been
// exhausted by other callers.
func (l *Limiter) Penalize(source types.SourceID, retryAfter time.Duration) {
	b := l.bucket(source)
	now := l.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if until := now.Add(retryAfter); until.After(b.blockedUntil) {
		b.blockedUntil = until
	}
	if n := int(b.limiter.TokensAt(now)); n > 0 {
		b.limiter.ReserveN(now, n)
	}
	l.metrics.RateLimited(source)
	l.logger.Info("source signalled rate limit",
		zap.String("source", string(source)), zap.Duration("retry_after", retryAfter))
}

// Tokens returns the number of whole or fractional tokens available for
// source now. Tokens claimed by pending reservations are not available, so
// the value never drops below zero and never exceeds the capacity.
func (l *Limiter) Tokens(source types.SourceID) float64 {
	b := l.bucket(source)
	now := l.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.blockedUntil) {
		return 0
	}
	t := b.limiter.TokensAt(now)
	if t < 0 {
		return 0
	}
	if c := float64(b.capacity); t > c {
		return c
	}
	return t
}

// Capacity returns the bucket capacity of source.
func (l *Limiter) Capacity(source types.SourceID) int {
	return l.bucket(source).capacity
}
