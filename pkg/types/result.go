// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Status is the outcome of a single source task.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

// Succeeded reports whether the source returned usable data. A partial
// failure still carries data.
func (s Status) Succeeded() bool {
	return s == StatusSuccess || s == StatusPartialFailure
}

// BundleStatus summarizes every result of a run.
type BundleStatus string

const (
	BundleComplete BundleStatus = "complete"
	BundlePartial  BundleStatus = "partial"
	BundleFailed   BundleStatus = "failed"
)

// Record is the common normalized shape every source produces. Fields holds
// the source-specific field → value mapping.
type Record struct {
	// ID is the source-native identifier (NCT ID, PubChem CID, PMID, label set ID).
	ID string `json:"id" yaml:"id"`

	// Kind is the record type: trial, compound, article, or label.
	Kind string `json:"kind" yaml:"kind"`

	Title string `json:"title" yaml:"title"`
	URL   string `json:"url,omitempty" yaml:"url,omitempty"`

	// Date is the most relevant date as reported by the source (start date,
	// publication date). Sources report free-form dates, so it stays a string.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`

	// Entities lists the drug, compound, and condition names the record mentions.
	Entities []string `json:"entities,omitempty" yaml:"entities,omitempty"`

	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Payload is the normalized response of one source.
type Payload struct {
	Records []Record `json:"records" yaml:"records"`

	// Total is the number of matches the source reported, which may exceed
	// len(Records).
	Total int `json:"total" yaml:"total"`
}

// SourceResult is the outcome of exactly one TaskDescriptor.
type SourceResult struct {
	Source    SourceID  `json:"source" yaml:"source"`
	Params    Params    `json:"params" yaml:"params"`
	Status    Status    `json:"status" yaml:"status"`
	Payload   Payload   `json:"payload" yaml:"payload"`
	FetchedAt time.Time `json:"fetched_at" yaml:"fetched_at"`
	FromCache bool      `json:"from_cache" yaml:"from_cache"`

	// Attempts counts external request attempts; zero for cache hits.
	Attempts int `json:"attempts" yaml:"attempts"`

	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// ResultBundle is the terminal artifact of one orchestration run.
type ResultBundle struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Query     Query          `json:"query" yaml:"query"`
	Results   []SourceResult `json:"results" yaml:"results"`
	Status    BundleStatus   `json:"status" yaml:"status"`
	StartedAt time.Time      `json:"started_at" yaml:"started_at"`
	Duration  time.Duration  `json:"duration" yaml:"duration"`
}

// ComputeStatus derives the bundle status: failed when every result failed
// (or there are none), complete when every result is a full success, and
// partial otherwise. A partial_failure result keeps the bundle out of
// failed but also out of complete.
func ComputeStatus(results []SourceResult) BundleStatus {
	succeeded, full := 0, 0
	for _, r := range results {
		if r.Status.Succeeded() {
			succeeded++
		}
		if r.Status == StatusSuccess {
			full++
		}
	}
	switch {
	case succeeded == 0:
		return BundleFailed
	case full == len(results):
		return BundleComplete
	default:
		return BundlePartial
	}
}
