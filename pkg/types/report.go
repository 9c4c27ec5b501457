// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Citation ties a retained fact to the source record it came from.
type Citation struct {
	Source   SourceID `json:"source" yaml:"source"`
	RecordID string   `json:"record_id" yaml:"record_id"`
	URL      string   `json:"url,omitempty" yaml:"url,omitempty"`
}

// Fact is a deduplicated record with every citation that reported it.
type Fact struct {
	Kind      string         `json:"kind" yaml:"kind"`
	ID        string         `json:"id" yaml:"id"`
	Title     string         `json:"title" yaml:"title"`
	Date      string         `json:"date,omitempty" yaml:"date,omitempty"`
	Fields    map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	Citations []Citation     `json:"citations" yaml:"citations"`
}

// Entity is a drug, compound, or condition name seen by one or more sources.
type Entity struct {
	// Key is the normalized, stemmed name used for matching across sources.
	Key string `json:"key" yaml:"key"`

	// Name is the first spelling encountered in source-ID order.
	Name string `json:"name" yaml:"name"`

	Sources []SourceID `json:"sources" yaml:"sources"`

	// Mentions counts the records naming this entity.
	Mentions int `json:"mentions" yaml:"mentions"`
}

// SourceSummary preserves per-source status so the report generator can
// annotate partial results.
type SourceSummary struct {
	Source      SourceID  `json:"source" yaml:"source"`
	Status      Status    `json:"status" yaml:"status"`
	FromCache   bool      `json:"from_cache" yaml:"from_cache"`
	FetchedAt   time.Time `json:"fetched_at" yaml:"fetched_at"`
	RecordCount int       `json:"record_count" yaml:"record_count"`
	Total       int       `json:"total" yaml:"total"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// Report is the merged model handed to the external report generator.
type Report struct {
	RunID             string          `json:"run_id" yaml:"run_id"`
	Query             Query           `json:"query" yaml:"query"`
	Status            BundleStatus    `json:"status" yaml:"status"`
	Sources           []SourceSummary `json:"sources" yaml:"sources"`
	Facts             []Fact          `json:"facts" yaml:"facts"`
	Entities          []Entity        `json:"entities" yaml:"entities"`
	DuplicatesRemoved int             `json:"duplicates_removed" yaml:"duplicates_removed"`
	Warnings          []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}
