// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sources fetches and normalizes data from the external research
// sources. A Worker wraps one source Client with the shared cache, the rate
// limiter, and the retry policy; it always returns a SourceResult and never
// propagates a panic.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/internal/cache"
	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/internal/ratelimit"
	"github.com/pdiddy/pharma-research/pkg/types"
)

const tracerName = "github.com/pdiddy/pharma-research/internal/sources"

// Doer sends one HTTP request. Workers hand clients a Doer that takes a
// rate-limit token per request and turns non-2xx responses into errors, so
// a client only ever sees successful responses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries one source and normalizes the response. Fetch returns a
// *PartialError alongside a usable payload when only part of the source's
// sub-requests failed.
type Client interface {
	Source() types.SourceID
	Fetch(ctx context.Context, do Doer, params types.Params) (types.Payload, error)
}

// PartialError reports that a source answered but some of its data is
// missing. The accompanying payload is still returned to the caller.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return "partial result: " + e.Err.Error() }
func (e *PartialError) Unwrap() error { return e.Err }

// WorkerOptions configures a Worker. Zero values select defaults.
type WorkerOptions struct {
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Cache      cache.Store
	Policy     httputil.Policy

	// TTL is the lifetime of entries this worker writes to the cache.
	TTL       time.Duration
	UserAgent string

	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Worker executes tasks for a single source.
type Worker struct {
	client    Client
	http      *http.Client
	limiter   *ratelimit.Limiter
	cache     cache.Store
	policy    httputil.Policy
	ttl       time.Duration
	userAgent string

	clock   clockwork.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewWorker wraps client with the shared infrastructure in opts.
func NewWorker(client Client, opts WorkerOptions) *Worker {
	w := &Worker{
		client:    client,
		http:      opts.HTTPClient,
		limiter:   opts.Limiter,
		cache:     opts.Cache,
		policy:    opts.Policy,
		ttl:       opts.TTL,
		userAgent: opts.UserAgent,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.http == nil {
		w.http = &http.Client{Timeout: 15 * time.Second}
	}
	if w.limiter == nil {
		w.limiter = ratelimit.New(nil, ratelimit.Options{Clock: w.clock})
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	if w.tracer == nil {
		w.tracer = otel.Tracer(tracerName)
	}
	w.logger = w.logger.With(zap.String("source", string(client.Source())))
	return w
}

// Source returns the source this worker serves.
func (w *Worker) Source() types.SourceID {
	return w.client.Source()
}

// Fetch executes one task: a cache lookup when useCache is set, then rate-
// limited requests with retries. Failures are reported in the result, never
// returned or panicked.
func (w *Worker) Fetch(ctx context.Context, params types.Params, useCache bool) (res types.SourceResult) {
	source := w.client.Source()
	canon := params.Canonical()
	start := w.clock.Now()

	ctx, span := w.tracer.Start(ctx, "sources.fetch", trace.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("params", canon.Key()),
	))
	res = types.SourceResult{Source: source, Params: canon}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("source worker panicked", zap.Any("panic", r))
			res.Status = types.StatusFailure
			res.ErrorKind = types.KindSourceFailure
			res.Error = fmt.Sprintf("%v: panic: %v", types.ErrSourceFailure, r)
			res.Payload = types.Payload{}
		}
		span.SetAttributes(
			attribute.String("status", string(res.Status)),
			attribute.Bool("from_cache", res.FromCache),
			attribute.Int("attempts", res.Attempts),
		)
		if res.Status == types.StatusFailure {
			span.SetStatus(codes.Error, res.Error)
		}
		span.End()
		w.metrics.TaskDone(res, w.clock.Since(start))
	}()

	if useCache && w.cache != nil {
		if e, ok := w.cache.Get(ctx, source, canon); ok {
			w.logger.Debug("cache hit", zap.String("params", canon.Key()))
			res.Status = types.StatusSuccess
			res.Payload = e.Payload
			res.FetchedAt = e.StoredAt
			res.FromCache = true
			return res
		}
	}

	doer := &limitedDoer{w: w}
	var (
		payload types.Payload
		partial *PartialError
	)
	attempts, err := httputil.Retry(ctx, w.policy, w.clock,
		func(ctx context.Context, attempt int) error {
			p, err := w.client.Fetch(ctx, doer, canon)
			if err != nil && !errors.As(err, &partial) {
				return err
			}
			payload = p
			return nil
		},
		func(attempt int, err error, wait time.Duration) {
			w.logger.Warn("source request failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
	res.Attempts = attempts

	if err != nil {
		kind := types.KindOf(err)
		if kind == types.KindSourceFailure && !errors.Is(err, types.ErrSourceFailure) {
			err = fmt.Errorf("%w: %v", types.ErrSourceFailure, err)
		}
		w.logger.Warn("source failed",
			zap.Int("attempts", attempts),
			zap.String("kind", string(kind)),
			zap.Error(err))
		res.Status = types.StatusFailure
		res.ErrorKind = kind
		res.Error = err.Error()
		return res
	}

	res.Payload = payload
	res.FetchedAt = w.clock.Now()
	if partial != nil {
		w.logger.Warn("source returned partial data", zap.Error(partial.Err))
		res.Status = types.StatusPartialFailure
		res.ErrorKind = types.KindSourceFailure
		res.Error = partial.Error()
		return res
	}

	res.Status = types.StatusSuccess
	if useCache && w.cache != nil {
		if err := w.cache.Put(ctx, source, canon, payload, w.ttl); err != nil {
			w.logger.Warn("caching source result failed", zap.Error(err))
		}
	}
	w.logger.Debug("source fetched",
		zap.Int("records", len(payload.Records)),
		zap.Int("attempts", attempts))
	return res
}

// limitedDoer sends requests on behalf of one worker.
type limitedDoer struct {
	w *Worker
}

func (d *limitedDoer) Do(req *http.Request) (*http.Response, error) {
	w := d.w
	source := w.client.Source()

	if err := w.limiter.Acquire(req.Context(), source); err != nil {
		if errors.Is(err, types.ErrRateLimitTimeout) {
			return nil, httputil.Permanent(err)
		}
		return nil, err
	}

	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.metrics.SourceRequest(source, 0)
		return nil, err
	}
	w.metrics.SourceRequest(source, resp.StatusCode)

	if err := httputil.CheckResponse(resp, w.clock.Now()); err != nil {
		var rl *httputil.RateLimitedError
		if errors.As(err, &rl) {
			w.limiter.Penalize(source, rl.RetryAfter)
		}
		return nil, err
	}
	return resp, nil
}
