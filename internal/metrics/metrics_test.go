// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/pharma-research/pkg/types"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup(types.SourcePubMed, "hit")
		m.RateLimitWaited(types.SourcePubMed, time.Second)
		m.RateLimitTimedOut(types.SourcePubMed)
		m.RateLimited(types.SourcePubMed)
		m.SourceRequest(types.SourcePubMed, 200)
		m.TaskDone(types.SourceResult{Source: types.SourcePubMed}, time.Second)
		m.RunDone(types.BundleComplete)
	})
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CacheLookup(types.SourcePubChem, "hit")
	m.CacheLookup(types.SourcePubChem, "hit")
	m.CacheLookup(types.SourcePubChem, "miss")
	m.SourceRequest(types.SourceOpenFDA, 429)
	m.TaskDone(types.SourceResult{Source: types.SourceOpenFDA, Status: types.StatusFailure, ErrorKind: types.KindTimeout}, time.Millisecond)
	m.RunDone(types.BundlePartial)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("pubchem", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("pubchem", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("openfda", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("openfda", "failure", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("partial")))
}
