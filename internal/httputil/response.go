// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody bounds how much of a failed response body is kept for
// error messages.
const maxErrorBody = 512

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimitedError is an HTTP 429 response. RetryAfter is zero when the
// source sent no usable hint.
type RateLimitedError struct {
	StatusError
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP 429: rate limited, retry after %v", e.RetryAfter)
	}
	return "HTTP 429: rate limited"
}

// CheckResponse returns nil for 2xx responses. Otherwise it drains and
// closes the body and returns a *RateLimitedError for 429 or a
// *StatusError for anything else.
func CheckResponse(resp *http.Response, now time.Time) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	se := StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		wait, _ := ParseRetryAfter(resp.Header.Get("Retry-After"), now)
		return &RateLimitedError{StatusError: se, RetryAfter: wait}
	}
	return &se
}

// ParseRetryAfter parses a Retry-After header given either as delay
// seconds or as an HTTP date. Dates in the past yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
