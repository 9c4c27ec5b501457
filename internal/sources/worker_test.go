// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/pharma-research/internal/cache"
	"github.com/pdiddy/pharma-research/internal/httputil"
	"github.com/pdiddy/pharma-research/internal/metrics"
	"github.com/pdiddy/pharma-research/internal/ratelimit"
	"github.com/pdiddy/pharma-research/pkg/types"
)

// stubClient answers from fn and counts calls.
type stubClient struct {
	source types.SourceID
	calls  atomic.Int32
	fn     func(ctx context.Context, attempt int) (types.Payload, error)
}

func (s *stubClient) Source() types.SourceID { return s.source }

func (s *stubClient) Fetch(ctx context.Context, _ Doer, _ types.Params) (types.Payload, error) {
	n := int(s.calls.Add(1)) - 1
	return s.fn(ctx, n)
}

var compound = types.Payload{Total: 1, Records: []types.Record{{ID: "2244", Kind: "compound", Title: "aspirin"}}}

func fastPolicy() httputil.Policy {
	return httputil.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestFetchSuccessIsCached(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := cache.NewMemory(cache.Options{Clock: clock})
	client := &stubClient{source: types.SourcePubChem, fn: func(context.Context, int) (types.Payload, error) {
		return compound, nil
	}}
	w := NewWorker(client, WorkerOptions{Cache: store, TTL: time.Hour, Clock: clock, Logger: zaptest.NewLogger(t)})

	res := w.Fetch(ctx, types.Params{"compound": "Aspirin"}, true)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, types.Params{"compound": "aspirin"}, res.Params)
	assert.True(t, res.FetchedAt.Equal(clock.Now()))

	e, ok := store.Get(ctx, types.SourcePubChem, types.Params{"compound": "aspirin"})
	require.True(t, ok)
	assert.Equal(t, "2244", e.Payload.Records[0].ID)
}

func TestCacheHitConsumesNoToken(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := cache.NewMemory(cache.Options{Clock: clock})
	require.NoError(t, store.Put(ctx, types.SourcePubChem, types.Params{"compound": "aspirin"}, compound, time.Hour))

	limiter := ratelimit.New(map[types.SourceID]ratelimit.Ceiling{
		types.SourcePubChem: {Requests: 5, Per: time.Second},
	}, ratelimit.Options{Clock: clock})
	client := &stubClient{source: types.SourcePubChem, fn: func(context.Context, int) (types.Payload, error) {
		return types.Payload{}, errors.New("must not be called")
	}}
	w := NewWorker(client, WorkerOptions{Cache: store, Limiter: limiter, Clock: clock})

	clock.Advance(10 * time.Minute)
	res := w.Fetch(ctx, types.Params{"compound": " ASPIRIN "}, true)

	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.True(t, res.FromCache)
	assert.Zero(t, res.Attempts)
	assert.Equal(t, int32(0), client.calls.Load())
	assert.InDelta(t, 5.0, limiter.Tokens(types.SourcePubChem), 1e-9)
	assert.True(t, res.FetchedAt.Equal(clock.Now().Add(-10*time.Minute)), "a cache hit reports when the data was fetched")
}

func TestFetchWithoutCacheNeitherReadsNorWrites(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(cache.Options{})
	require.NoError(t, store.Put(ctx, types.SourcePubChem, types.Params{"compound": "aspirin"}, types.Payload{Total: 99}, time.Hour))

	client := &stubClient{source: types.SourcePubChem, fn: func(context.Context, int) (types.Payload, error) {
		return compound, nil
	}}
	w := NewWorker(client, WorkerOptions{Cache: store, TTL: time.Hour})

	res := w.Fetch(ctx, types.Params{"compound": "aspirin"}, false)
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, res.Payload.Total)

	e, ok := store.Get(ctx, types.SourcePubChem, types.Params{"compound": "aspirin"})
	require.True(t, ok)
	assert.Equal(t, 99, e.Payload.Total, "a cache-disabled fetch must not overwrite entries")
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	client := &stubClient{source: types.SourcePubMed, fn: func(_ context.Context, attempt int) (types.Payload, error) {
		if attempt == 0 {
			return types.Payload{}, &httputil.StatusError{StatusCode: 503}
		}
		return compound, nil
	}}
	w := NewWorker(client, WorkerOptions{Policy: fastPolicy(), Logger: zaptest.NewLogger(t)})

	res := w.Fetch(context.Background(), types.Params{"term": "aspirin"}, false)
	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestFetchFailsAfterRetries(t *testing.T) {
	client := &stubClient{source: types.SourcePubMed, fn: func(context.Context, int) (types.Payload, error) {
		return types.Payload{}, &httputil.StatusError{StatusCode: 500}
	}}
	w := NewWorker(client, WorkerOptions{Policy: fastPolicy()})

	res := w.Fetch(context.Background(), types.Params{"term": "aspirin"}, false)
	assert.Equal(t, types.StatusFailure, res.Status)
	assert.Equal(t, types.KindSourceFailure, res.ErrorKind)
	assert.Equal(t, 3, res.Attempts, "one attempt plus MaxRetries")
	assert.Contains(t, res.Error, "source failure")
	assert.Contains(t, res.Error, "HTTP 500")
	assert.Empty(t, res.Payload.Records)
}

func TestFetchPartialIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory(cache.Options{})
	client := &stubClient{source: types.SourcePubMed, fn: func(context.Context, int) (types.Payload, error) {
		return compound, &PartialError{Err: errors.New("summaries unavailable")}
	}}
	w := NewWorker(client, WorkerOptions{Cache: store, TTL: time.Hour, Policy: fastPolicy()})

	res := w.Fetch(ctx, types.Params{"term": "aspirin"}, true)
	assert.Equal(t, types.StatusPartialFailure, res.Status)
	assert.True(t, res.Status.Succeeded())
	assert.Contains(t, res.Error, "summaries unavailable")
	assert.Len(t, res.Payload.Records, 1)
	assert.Equal(t, 1, res.Attempts)

	_, ok := store.Get(ctx, types.SourcePubMed, types.Params{"term": "aspirin"})
	assert.False(t, ok)
}

func TestFetchRecoversFromPanics(t *testing.T) {
	client := &stubClient{source: types.SourceOpenFDA, fn: func(context.Context, int) (types.Payload, error) {
		panic("nil map write")
	}}
	w := NewWorker(client, WorkerOptions{Policy: fastPolicy(), Logger: zaptest.NewLogger(t)})

	var res types.SourceResult
	require.NotPanics(t, func() {
		res = w.Fetch(context.Background(), types.Params{"drug": "aspirin"}, false)
	})
	assert.Equal(t, types.StatusFailure, res.Status)
	assert.Equal(t, types.KindSourceFailure, res.ErrorKind)
	assert.Contains(t, res.Error, "nil map write")
}

func TestFetchRateLimitTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"IdentifierList":{"CID":[]}}`)
	}))
	defer ts.Close()
	swap(t, &pubChemAPIBase, ts.URL)

	limiter := ratelimit.New(map[types.SourceID]ratelimit.Ceiling{
		types.SourcePubChem: {Requests: 1, Per: time.Second},
	}, ratelimit.Options{Clock: clock, WaitTimeout: 100 * time.Millisecond})
	require.True(t, limiter.TryAcquire(types.SourcePubChem))

	w := NewWorker(&PubChemClient{}, WorkerOptions{
		HTTPClient: ts.Client(),
		Limiter:    limiter,
		Policy:     httputil.DefaultPolicy(),
		Clock:      clock,
	})

	res := w.Fetch(context.Background(), types.Params{"compound": "aspirin"}, false)
	assert.Equal(t, types.StatusFailure, res.Status)
	assert.Equal(t, types.KindRateLimitTimeout, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts, "a rate-limit timeout is not retried")
	assert.Zero(t, hits.Load(), "no request may be sent without a token")
}

func TestFetchHonorsRetryAfter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"meta":{"results":{"total":1}},"results":[{"set_id":"s1","openfda":{"brand_name":["Bayer"]}}]}`)
	}))
	defer ts.Close()
	swap(t, &openFDAAPIBase, ts.URL)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	limiter := ratelimit.New(map[types.SourceID]ratelimit.Ceiling{
		types.SourceOpenFDA: {Requests: 10, Per: time.Second},
	}, ratelimit.Options{Clock: clock, WaitTimeout: 10 * time.Second, Metrics: m})

	w := NewWorker(&OpenFDAClient{}, WorkerOptions{
		HTTPClient: ts.Client(),
		Limiter:    limiter,
		Policy:     httputil.Policy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
		Metrics:    m,
	})

	done := make(chan types.SourceResult, 1)
	go func() { done <- w.Fetch(context.Background(), types.Params{"drug": "aspirin"}, false) }()

	clock.BlockUntil(1)
	assert.Equal(t, 0.0, limiter.Tokens(types.SourceOpenFDA), "a 429 drains the bucket")

	clock.Advance(1999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("retried before the Retry-After window elapsed")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(time.Millisecond)
	select {
	case res := <-done:
		assert.Equal(t, types.StatusSuccess, res.Status)
		assert.Equal(t, 2, res.Attempts)
		require.Len(t, res.Payload.Records, 1)
		assert.Equal(t, "s1", res.Payload.Records[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not finish after the Retry-After window")
	}
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitPenalty.WithLabelValues("openfda")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("openfda", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("openfda", "200")))
}

func TestFetchDeadlineIsTimeout(t *testing.T) {
	client := &stubClient{source: types.SourceClinicalTrials, fn: func(ctx context.Context, _ int) (types.Payload, error) {
		<-ctx.Done()
		return types.Payload{}, ctx.Err()
	}}
	w := NewWorker(client, WorkerOptions{Policy: fastPolicy()})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := w.Fetch(ctx, types.Params{"intervention": "aspirin"}, false)
	assert.Equal(t, types.StatusFailure, res.Status)
	assert.Equal(t, types.KindTimeout, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
}

func TestFetchRecordsSpanAndMetrics(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client := &stubClient{source: types.SourcePubChem, fn: func(context.Context, int) (types.Payload, error) {
		return compound, nil
	}}
	w := NewWorker(client, WorkerOptions{Tracer: tp.Tracer("test"), Metrics: m})
	w.Fetch(context.Background(), types.Params{"compound": "aspirin"}, false)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "sources.fetch", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "pubchem", attrs["source"])
	assert.Equal(t, "success", attrs["status"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("pubchem", "success", "")))
}
