// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator runs a plan's tasks concurrently under a global time
// budget and collects one SourceResult per task into a ResultBundle.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/pkg/types"
)

const tracerName = "github.com/pdiddy/pharma-research/internal/orchestrator"

// Fetcher executes a task against one source. It must always return a
// result; sources.Worker is the production implementation.
type Fetcher interface {
	Source() types.SourceID
	Fetch(ctx context.Context, params types.Params, useCache bool) types.SourceResult
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Orchestrator dispatches tasks to the fetcher registered for their source.
type Orchestrator struct {
	fetchers map[types.SourceID]Fetcher
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// New returns an Orchestrator over fetchers. A later fetcher for the same
// source replaces an earlier one.
func New(fetchers []Fetcher, opts Options) *Orchestrator {
	o := &Orchestrator{
		fetchers: make(map[types.SourceID]Fetcher, len(fetchers)),
		clock:    opts.Clock,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
	for _, f := range fetchers {
		o.fetchers[f.Source()] = f
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

type indexed struct {
	i   int
	res types.SourceResult
}

// Run executes every task concurrently and waits until all have finished or
// timeout has elapsed, whichever comes first. Tasks still running at the
// deadline are recorded as timeout failures and their late results are
// discarded. A non-positive timeout means no deadline beyond ctx.
//
// Results are ordered by source id, then by canonical parameters, so the
// bundle does not depend on completion order.
func (o *Orchestrator) Run(ctx context.Context, tasks []types.TaskDescriptor, timeout time.Duration, useCache bool) types.ResultBundle {
	runID := uuid.NewString()
	start := o.clock.Now()
	log := o.logger.With(zap.String("run_id", runID))

	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("tasks", len(tasks)),
		attribute.Bool("use_cache", useCache),
	))
	defer span.End()

	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	log.Info("research run started", zap.Int("tasks", len(tasks)), zap.Duration("timeout", timeout))

	// Buffered so that tasks finishing after the deadline never block.
	ch := make(chan indexed, len(tasks))
	for i, task := range tasks {
		go func() {
			ch <- indexed{i: i, res: o.runTask(ctx, task, useCache)}
		}()
	}

	results := make([]types.SourceResult, len(tasks))
	done := make([]bool, len(tasks))
	pending := len(tasks)
collect:
	for pending > 0 {
		select {
		case r := <-ch:
			results[r.i] = r.res
			done[r.i] = true
			pending--
		case <-ctx.Done():
			break collect
		}
	}

	for i, task := range tasks {
		if done[i] {
			continue
		}
		log.Warn("task abandoned at deadline", zap.String("source", string(task.Source)))
		results[i] = types.SourceResult{
			Source:    task.Source,
			Params:    task.Params.Canonical(),
			Status:    types.StatusFailure,
			Error:     fmt.Sprintf("%v: %v", types.ErrTimeout, ctx.Err()),
			ErrorKind: types.KindTimeout,
		}
	}

	sortResults(results)
	bundle := types.ResultBundle{
		RunID:     runID,
		Results:   results,
		Status:    types.ComputeStatus(results),
		StartedAt: start,
		Duration:  o.clock.Since(start),
	}

	span.SetAttributes(attribute.String("status", string(bundle.Status)))
	o.metrics.RunDone(bundle.Status)
	log.Info("research run finished",
		zap.String("status", string(bundle.Status)),
		zap.Int("abandoned", pending),
		zap.Duration("duration", bundle.Duration))
	return bundle
}

// runTask isolates one task: a missing fetcher or a panic becomes a failed
// result instead of affecting sibling tasks.
func (o *Orchestrator) runTask(ctx context.Context, task types.TaskDescriptor, useCache bool) (res types.SourceResult) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.task", trace.WithAttributes(
		attribute.String("source", string(task.Source)),
		attribute.Int("priority", task.Priority),
	))
	defer span.End()

	failed := func(err string) types.SourceResult {
		return types.SourceResult{
			Source:    task.Source,
			Params:    task.Params.Canonical(),
			Status:    types.StatusFailure,
			Error:     fmt.Sprintf("%v: %s", types.ErrSourceFailure, err),
			ErrorKind: types.KindSourceFailure,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("task panicked", zap.String("source", string(task.Source)), zap.Any("panic", r))
			res = failed(fmt.Sprintf("panic: %v", r))
		}
		span.SetAttributes(attribute.String("status", string(res.Status)))
	}()

	f, ok := o.fetchers[task.Source]
	if !ok {
		return failed("no worker registered for source")
	}
	res = f.Fetch(ctx, task.Params, useCache)
	o.logger.Debug("task finished",
		zap.String("source", string(task.Source)),
		zap.String("status", string(res.Status)),
		zap.Bool("from_cache", res.FromCache))
	return res
}

func sortResults(results []types.SourceResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].Params.Key() < results[j].Params.Key()
	})
}
