// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics defines the Prometheus collectors of the research pipeline.
// A nil *Metrics is valid and records nothing, so components can run
// without a registry in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// Metrics holds every collector.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	RateLimitWait     *prometheus.HistogramVec
	RateLimitTimeouts *prometheus.CounterVec
	RateLimitPenalty  *prometheus.CounterVec
	SourceRequests    *prometheus.CounterVec
	TaskOutcomes      *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	Runs              *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// to expose them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_cache_lookups_total",
				Help: "Cache lookups by source and result (hit, miss, expired, corrupt)",
			},
			[]string{"source", "result"},
		),
		RateLimitWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharma_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a rate-limit token",
				Buckets: []float64{0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		RateLimitTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_rate_limit_timeouts_total",
				Help: "Token acquisitions that exceeded the wait timeout",
			},
			[]string{"source"},
		),
		RateLimitPenalty: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_rate_limit_responses_total",
				Help: "HTTP 429 responses received from sources",
			},
			[]string{"source"},
		),
		SourceRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_source_requests_total",
				Help: "External HTTP requests by source and status code (0 for transport errors)",
			},
			[]string{"source", "code"},
		),
		TaskOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_task_outcomes_total",
				Help: "Source task outcomes by status and error kind",
			},
			[]string{"source", "status", "kind"},
		),
		TaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pharma_task_duration_seconds",
				Help:    "Source task duration including cache, rate limiting and retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pharma_runs_total",
				Help: "Orchestration runs by bundle status",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) CacheLookup(source types.SourceID, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(string(source), result).Inc()
}

func (m *Metrics) RateLimitWaited(source types.SourceID, d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(string(source)).Observe(d.Seconds())
}

func (m *Metrics) RateLimitTimedOut(source types.SourceID) {
	if m == nil {
		return
	}
	m.RateLimitTimeouts.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) RateLimited(source types.SourceID) {
	if m == nil {
		return
	}
	m.RateLimitPenalty.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) SourceRequest(source types.SourceID, code int) {
	if m == nil {
		return
	}
	m.SourceRequests.WithLabelValues(string(source), strconv.Itoa(code)).Inc()
}

func (m *Metrics) TaskDone(r types.SourceResult, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(string(r.Source), string(r.Status), string(r.ErrorKind)).Inc()
	m.TaskDuration.WithLabelValues(string(r.Source)).Observe(d.Seconds())
}

func (m *Metrics) RunDone(status types.BundleStatus) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(string(status)).Inc()
}
