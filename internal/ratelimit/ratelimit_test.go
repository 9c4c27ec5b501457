// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pharma-research/pkg/types"
)

func newTestLimiter(clock clockwork.Clock, waitTimeout time.Duration) *Limiter {
	return New(map[types.SourceID]Ceiling{
		types.SourcePubMed:  {Requests: 3, Per: time.Second},
		types.SourcePubChem: {Requests: 1, Per: time.Second},
		types.SourceOpenFDA: {Requests: 10, Per: time.Second},
	}, Options{WaitTimeout: waitTimeout, Clock: clock})
}

func TestTryAcquireNeverExceedsCapacityPerInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 0)

	granted := 0
	for i := 0; i < 10; i++ {
		if l.TryAcquire(types.SourcePubMed) {
			granted++
		}
	}
	assert.Equal(t, 3, granted, "a full bucket grants exactly its capacity")

	// A third of the interval refills one token.
	clock.Advance(time.Second / 3)
	assert.True(t, l.TryAcquire(types.SourcePubMed))
	assert.False(t, l.TryAcquire(types.SourcePubMed))

	// A long idle period refills to capacity, never beyond.
	clock.Advance(10 * time.Second)
	assert.InDelta(t, 3.0, l.Tokens(types.SourcePubMed), 1e-9)
	granted = 0
	for i := 0; i < 10; i++ {
		if l.TryAcquire(types.SourcePubMed) {
			granted++
		}
	}
	assert.Equal(t, 3, granted)
}

func TestTryAcquireConcurrentCallersDoNotDoubleSpend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 0)

	var granted int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire(types.SourceOpenFDA) {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), atomic.LoadInt32(&granted))
	assert.GreaterOrEqual(t, l.Tokens(types.SourceOpenFDA), 0.0)
}

func TestBucketsAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 0)

	require.True(t, l.TryAcquire(types.SourcePubChem))
	assert.False(t, l.TryAcquire(types.SourcePubChem))
	assert.True(t, l.TryAcquire(types.SourcePubMed))
}

func TestAcquireImmediateWhenTokensAvailable(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), types.SourcePubMed))
	}
	assert.InDelta(t, 0.0, l.Tokens(types.SourcePubMed), 1e-9)
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 5*time.Second)

	require.NoError(t, l.Acquire(context.Background(), types.SourcePubChem))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background(), types.SourcePubChem) }()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("Acquire returned before the bucket refilled")
	default:
	}

	clock.Advance(time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after refill")
	}
}

func TestAcquireTimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 100*time.Millisecond)

	require.NoError(t, l.Acquire(context.Background(), types.SourcePubChem))

	err := l.Acquire(context.Background(), types.SourcePubChem)
	assert.ErrorIs(t, err, types.ErrRateLimitTimeout)

	// The cancelled reservation did not push the next token further out.
	clock.Advance(time.Second)
	assert.True(t, l.TryAcquire(types.SourcePubChem))
}

func TestAcquireHonorsContext(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 0)

	require.NoError(t, l.Acquire(context.Background(), types.SourcePubChem))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx, types.SourcePubChem) }()

	clock.BlockUntil(1)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPenalizeDrainsAndBlocks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, 10*time.Second)

	l.Penalize(types.SourceOpenFDA, 2*time.Second)
	assert.Equal(t, 0.0, l.Tokens(types.SourceOpenFDA))
	assert.False(t, l.TryAcquire(types.SourceOpenFDA))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background(), types.SourceOpenFDA) }()

	clock.BlockUntil(1)
	clock.Advance(1999 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Acquire returned before the retry-after window elapsed")
	default:
	}

	clock.Advance(time.Millisecond)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after the retry-after window")
	}
}

func TestPenaltyLongerThanWaitTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := newTestLimiter(clock, time.Second)

	l.Penalize(types.SourcePubMed, 5*time.Second)
	err := l.Acquire(context.Background(), types.SourcePubMed)
	assert.ErrorIs(t, err, types.ErrRateLimitTimeout)
}

func TestUnknownSourceUsesDefaultCeiling(t *testing.T) {
	l := New(nil, Options{Clock: clockwork.NewFakeClock()})
	assert.Equal(t, defaultCeiling.Requests, l.Capacity(types.SourceClinicalTrials))
	assert.True(t, l.TryAcquire(types.SourceClinicalTrials))
	assert.False(t, l.TryAcquire(types.SourceClinicalTrials))
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(types.DefaultConfig().Sources)
	assert.Equal(t, Ceiling{Requests: 240, Per: time.Minute}, c[types.SourceOpenFDA])
	assert.Len(t, c, len(types.AllSources))
}
