// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"context"
	"errors"
)

var (
	// ErrInvalidQuery means the planner could not extract an entity or topic.
	// It is the only error surfaced to callers of a research run.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrRateLimitTimeout means no rate-limit token became available within
	// the configured wait timeout.
	ErrRateLimitTimeout = errors.New("rate limit wait timeout")

	// ErrSourceFailure means a source kept failing after all retries.
	ErrSourceFailure = errors.New("source failure")

	// ErrTimeout means the global orchestration deadline passed before the
	// task completed.
	ErrTimeout = errors.New("orchestration timeout")

	// ErrCacheCorruption means a stored payload could not be decoded. Cache
	// stores treat it as a miss.
	ErrCacheCorruption = errors.New("cache entry corrupted")
)

// ErrorKind names the failure class recorded on a SourceResult.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindRateLimitTimeout ErrorKind = "rate_limit_timeout"
	KindSourceFailure    ErrorKind = "source_failure"
	KindTimeout          ErrorKind = "timeout"
)

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimitTimeout):
		return KindRateLimitTimeout
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindSourceFailure
	}
}
