// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, p.Backoff(i), "attempt %d", i)
	}
}

func TestBackoffDefaults(t *testing.T) {
	var p Policy
	assert.Equal(t, defaultBaseDelay, p.Backoff(0))
	assert.Equal(t, defaultMaxDelay, p.Backoff(30))
}

func TestRetry_ImmediateSuccess(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), DefaultPolicy(), clockwork.NewFakeClock(),
		func(context.Context, int) error {
			calls++
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
	var waits []time.Duration
	attempts, err := Retry(context.Background(), p, clockwork.NewRealClock(),
		func(context.Context, int) error {
			return &StatusError{StatusCode: http.StatusBadGateway}
		},
		func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) })

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	// 1 initial + 2 retries = 3 attempts.
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts, err := Retry(context.Background(), p, nil,
		func(_ context.Context, attempt int) error {
			if attempt < 2 {
				return errors.New("connection reset")
			}
			return nil
		}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_PermanentStops(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), DefaultPolicy(), clockwork.NewFakeClock(),
		func(context.Context, int) error {
			calls++
			return Permanent(errors.New("bad request"))
		}, nil)
	assert.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetryAfterStretchesWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := Policy{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	calls := make(chan int, 4)
	done := make(chan error, 1)
	go func() {
		_, err := Retry(context.Background(), p, clock,
			func(_ context.Context, attempt int) error {
				calls <- attempt
				if attempt == 0 {
					return &RateLimitedError{StatusError: StatusError{StatusCode: 429}, RetryAfter: 2 * time.Second}
				}
				return nil
			}, nil)
		done <- err
	}()

	assert.Equal(t, 0, <-calls)
	clock.BlockUntil(1)

	// The backoff alone (100ms) would have fired here.
	clock.Advance(time.Second)
	select {
	case <-calls:
		t.Fatal("retried before the Retry-After hint elapsed")
	default:
	}

	clock.Advance(time.Second)
	assert.Equal(t, 1, <-calls)
	assert.NoError(t, <-done)
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Retry(ctx, p, nil, func(context.Context, int) error {
		return errors.New("boom")
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/limited":
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "upstream exploded")
		}
	}))
	defer ts.Close()

	get := func(path string) *http.Response {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		return resp
	}
	now := time.Now()

	resp := get("/ok")
	assert.NoError(t, CheckResponse(resp, now))
	resp.Body.Close()

	var rl *RateLimitedError
	require.ErrorAs(t, CheckResponse(get("/limited"), now), &rl)
	assert.Equal(t, 2*time.Second, rl.RetryAfter)

	var se *StatusError
	err := CheckResponse(get("/boom"), now)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.True(t, strings.Contains(err.Error(), "upstream exploded"))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"seconds", "2", 2 * time.Second, true},
		{"padded", " 30 ", 30 * time.Second, true},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"empty", "", 0, false},
		{"negative", "-3", 0, false},
		{"garbage", "soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryAfter(tt.value, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
