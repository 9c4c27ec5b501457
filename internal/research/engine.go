// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package research is the inbound entry point of the pipeline. An Engine
// owns the shared rate limiter and cache, one worker per source, and the
// orchestrator; it plans a query, runs the tasks, and aggregates the results.
package research

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/internal/aggregate"
	"github.com/pdiddy/pharma-research/internal/cache"
	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/internal/orchestrator"
	"github.com/pdiddy/pharma-research/internal/planner"
	"github.com/pdiddy/pharma-research/internal/ratelimit"
	"github.com/pdiddy/pharma-research/internal/sources"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// Options controls one research run.
type Options struct {
	// Timeout is the global time budget. Zero uses the configured default.
	Timeout time.Duration

	// UseCache allows cached responses to be served and fresh ones stored.
	// It has no effect when the cache is disabled in configuration.
	UseCache bool
}

// DefaultOptions uses the configured timeout and the cache.
func DefaultOptions() Options {
	return Options{UseCache: true}
}

// Deps holds the collaborators an Engine is built with. Zero values select
// production defaults.
type Deps struct {
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *zap.Logger
	Tracer     trace.Tracer

	// Registerer receives the pipeline's Prometheus collectors. Nil disables
	// metrics.
	Registerer prometheus.Registerer

	// Cache replaces the store selected by the cache configuration.
	Cache cache.Store
}

// Engine runs research queries. It is safe for concurrent use; concurrent
// runs share the rate limiter and the cache.
type Engine struct {
	cfg     types.Config
	planner *planner.Planner
	limiter *ratelimit.Limiter
	cache   cache.Store
	orch    *orchestrator.Orchestrator
	logger  *zap.Logger

	stopJanitor context.CancelFunc
}

// New builds an Engine from cfg. It opens the configured cache backend;
// call Close to release it.
func New(ctx context.Context, cfg types.Config, deps Deps) (*Engine, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}
	var m *metrics.Metrics
	if deps.Registerer != nil {
		m = metrics.New(deps.Registerer)
	}

	e := &Engine{
		cfg:     cfg,
		planner: planner.New(cfg.Sources),
		logger:  deps.Logger,
		limiter: ratelimit.New(ratelimit.FromConfig(cfg.Sources), ratelimit.Options{
			WaitTimeout: cfg.RateLimit.WaitTimeout,
			Clock:       deps.Clock,
			Logger:      deps.Logger.Named("ratelimit"),
			Metrics:     m,
		}),
	}

	store := deps.Cache
	if store == nil && cfg.Cache.Enabled {
		c, err := cache.Open(ctx, cfg.Cache, cache.Options{
			Clock:   deps.Clock,
			Logger:  deps.Logger.Named("cache"),
			Metrics: m,
		})
		if err != nil {
			return nil, fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
		}
		if cfg.Cache.SweepInterval > 0 {
			jctx, cancel := context.WithCancel(context.Background())
			c.StartJanitor(jctx, cfg.Cache.SweepInterval)
			e.stopJanitor = cancel
		}
		store = c
	}
	e.cache = store

	policy := httputil.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
	}
	var fetchers []orchestrator.Fetcher
	for _, id := range types.AllSources {
		sc := cfg.Sources[id]
		client, err := sources.NewClient(id, sc)
		if err != nil {
			e.Close()
			return nil, err
		}
		fetchers = append(fetchers, sources.NewWorker(client, sources.WorkerOptions{
			HTTPClient: deps.HTTPClient,
			Limiter:    e.limiter,
			Cache:      store,
			Policy:     policy,
			TTL:        cfg.SourceTTL(id),
			UserAgent:  cfg.HTTP.UserAgent,
			Clock:      deps.Clock,
			Logger:     deps.Logger.Named("sources"),
			Metrics:    m,
			Tracer:     deps.Tracer,
		}))
	}
	e.orch = orchestrator.New(fetchers, orchestrator.Options{
		Clock:   deps.Clock,
		Logger:  deps.Logger.Named("orchestrator"),
		Metrics: m,
		Tracer:  deps.Tracer,
	})
	return e, nil
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() types.Config {
	return e.cfg
}

// Plan returns the task descriptors q would run.
func (e *Engine) Plan(q types.Query) ([]types.TaskDescriptor, error) {
	return e.planner.Plan(q)
}

// Run plans q and executes every task. The only error returned wraps
// types.ErrInvalidQuery; source failures are reported in the bundle.
func (e *Engine) Run(ctx context.Context, q types.Query, opts Options) (types.ResultBundle, error) {
	tasks, err := e.planner.Plan(q)
	if err != nil {
		return types.ResultBundle{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.Orchestrator.Timeout
	}
	useCache := opts.UseCache && e.cache != nil

	bundle := e.orch.Run(ctx, tasks, timeout, useCache)
	bundle.Query = q
	return bundle, nil
}

// Report runs q and aggregates the bundle.
func (e *Engine) Report(ctx context.Context, q types.Query, opts Options) (types.ResultBundle, types.Report, error) {
	bundle, err := e.Run(ctx, q, opts)
	if err != nil {
		return types.ResultBundle{}, types.Report{}, err
	}
	return bundle, aggregate.Aggregate(bundle), nil
}

// ClearCache removes cached responses of source, or of every source when
// source is empty, and returns the number removed.
func (e *Engine) ClearCache(ctx context.Context, source types.SourceID) (int, error) {
	var id types.SourceID
	if source != "" {
		var err error
		if id, err = types.ParseSourceID(string(source)); err != nil {
			return 0, err
		}
	}
	switch {
	case e.cache == nil:
		return 0, nil
	case id == "":
		return e.cache.Clear(ctx)
	default:
		return e.cache.ClearSource(ctx, id)
	}
}

// CacheStats reports the cache's entry counts and hit rate. A disabled
// cache reports zero values.
func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, error) {
	if e.cache == nil {
		return cache.Stats{Backend: "disabled"}, nil
	}
	return e.cache.Stats(ctx)
}

// Close stops background work and releases the cache.
func (e *Engine) Close() error {
	if e.stopJanitor != nil {
		e.stopJanitor()
	}
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}
