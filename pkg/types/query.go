// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data structures of the pharma-research
// pipeline: queries, task descriptors, per-source results, result bundles,
// the aggregated report model, and configuration.
package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SourceID identifies one external data source. The set is closed; every
// value has a worker registered by the research engine.
type SourceID string

const (
	SourceClinicalTrials SourceID = "clinical_trials"
	SourceOpenFDA        SourceID = "openfda"
	SourcePubChem        SourceID = "pubchem"
	SourcePubMed         SourceID = "pubmed"
)

// AllSources lists every known source in source-ID order.
var AllSources = []SourceID{
	SourceClinicalTrials,
	SourceOpenFDA,
	SourcePubChem,
	SourcePubMed,
}

// ParseSourceID validates a source name.
func ParseSourceID(s string) (SourceID, error) {
	id := SourceID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSources {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Query is a research request: free text plus optional structured filters.
// A Query is treated as immutable once submitted.
type Query struct {
	// Text is the free-form research question (e.g. "aspirin in colorectal cancer").
	Text string `json:"text" yaml:"text"`

	// Entity is the drug or compound name. When empty the planner extracts
	// it from Text.
	Entity string `json:"entity,omitempty" yaml:"entity,omitempty"`

	// Indication is the disease or condition of interest.
	Indication string `json:"indication,omitempty" yaml:"indication,omitempty"`

	// DateFrom and DateTo bound trial start dates and publication dates.
	DateFrom time.Time `json:"date_from,omitempty" yaml:"date_from,omitempty"`
	DateTo   time.Time `json:"date_to,omitempty" yaml:"date_to,omitempty"`

	// Sources restricts the plan to a subset of sources. Empty means all
	// enabled sources.
	Sources []SourceID `json:"sources,omitempty" yaml:"sources,omitempty"`
}

// Params is the parameter mapping handed to a source worker.
type Params map[string]string

// Canonical returns a normalized copy: keys and values lowercased,
// whitespace trimmed and collapsed, empty values dropped. Logically
// identical parameter sets produce equal canonical forms.
func (p Params) Canonical() Params {
	out := make(Params, len(p))
	for k, v := range p {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.ToLower(strings.Join(strings.Fields(v), " "))
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// Key renders the canonical parameters as a stable, URL-encoded
// "k=v&k=v" string with keys sorted. Escaping keeps values containing '&'
// or '=' from colliding with other parameter sets.
func (p Params) Key() string {
	c := p.Canonical()
	v := make(url.Values, len(c))
	for k, val := range c {
		v.Set(k, val)
	}
	return v.Encode()
}

// Get returns the value for key, or fallback when absent or empty.
func (p Params) Get(key, fallback string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return fallback
}

// TaskDescriptor is one unit of work for the orchestrator: query a single
// source with a fixed parameter set. Descriptors are never mutated.
type TaskDescriptor struct {
	Source   SourceID `json:"source" yaml:"source"`
	Params   Params   `json:"params" yaml:"params"`
	Priority int      `json:"priority" yaml:"priority"`
}
