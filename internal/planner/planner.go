// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package planner turns a research query into one task descriptor per
// source. Planning is deterministic and performs no I/O: the same query and
// configuration always produce the same descriptors in the same order.
package planner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// MaxQueryLength caps the sanitized query text, in characters.
const MaxQueryLength = 500

// priorities orders descriptors: cheap identity lookups first, broad
// literature search last.
var priorities = map[types.SourceID]int{
	types.SourcePubChem:        1,
	types.SourceOpenFDA:        2,
	types.SourceClinicalTrials: 3,
	types.SourcePubMed:         4,
}

// fillerWords are research phrasing that never names a drug or a disease.
// They are compared by stem, so plurals match too.
var fillerWords = []string{
	"about", "adverse", "analysis", "article", "clinical", "compound", "data",
	"drug", "effect", "efficacy", "event", "fda", "find", "get", "give",
	"info", "information", "label", "latest", "literature", "look", "medication",
	"overview", "paper", "please", "properties", "publication", "pubchem",
	"pubmed", "recent", "report", "research", "review", "safety", "search",
	"show", "side", "studies", "study", "summary", "tell", "therapy",
	"treatment", "trial", "use",
}

var fillerStems = func() map[string]bool {
	m := make(map[string]bool, len(fillerWords))
	for _, w := range fillerWords {
		m[snowballeng.Stem(w, false)] = true
	}
	return m
}()

// Planner builds task descriptors using per-source limits and the set of
// enabled sources.
type Planner struct {
	sources map[types.SourceID]types.SourceConfig
}

// New returns a Planner for the given source configuration.
func New(sources map[types.SourceID]types.SourceConfig) *Planner {
	return &Planner{sources: sources}
}

// Plan plans q with the default configuration.
func Plan(q types.Query) ([]types.TaskDescriptor, error) {
	return New(types.DefaultConfig().Sources).Plan(q)
}

// Plan returns one descriptor per selected source, ordered by priority and
// then source id. It returns an error wrapping types.ErrInvalidQuery when
// no entity can be extracted or the query selects no usable source.
func (p *Planner) Plan(q types.Query) ([]types.TaskDescriptor, error) {
	terms := Terms(q.Text)

	entity := Sanitize(q.Entity)
	if entity == "" {
		if len(terms) == 0 {
			return nil, fmt.Errorf("%w: no drug or topic found in %q", types.ErrInvalidQuery, q.Text)
		}
		entity = terms[0]
	}

	indication := Sanitize(q.Indication)
	if indication == "" {
		indication = strings.Join(withoutWords(terms, entity), " ")
	}

	if !q.DateFrom.IsZero() && !q.DateTo.IsZero() && q.DateFrom.After(q.DateTo) {
		return nil, fmt.Errorf("%w: date range starts after it ends", types.ErrInvalidQuery)
	}

	selected, err := p.selectSources(q.Sources)
	if err != nil {
		return nil, err
	}

	tasks := make([]types.TaskDescriptor, 0, len(selected))
	for _, source := range selected {
		tasks = append(tasks, types.TaskDescriptor{
			Source:   source,
			Params:   p.params(source, entity, indication, q),
			Priority: priorities[source],
		})
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority < tasks[j].Priority
		}
		return tasks[i].Source < tasks[j].Source
	})
	return tasks, nil
}

func (p *Planner) selectSources(requested []types.SourceID) ([]types.SourceID, error) {
	candidates := types.AllSources
	if len(requested) > 0 {
		candidates = nil
		seen := make(map[types.SourceID]bool)
		for _, r := range requested {
			id, err := types.ParseSourceID(string(r))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrInvalidQuery, err)
			}
			if !seen[id] {
				seen[id] = true
				candidates = append(candidates, id)
			}
		}
	}

	var out []types.SourceID
	for _, id := range candidates {
		if sc, ok := p.sources[id]; ok && !sc.Enabled {
			continue
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no enabled source selected", types.ErrInvalidQuery)
	}
	return out, nil
}

func (p *Planner) limit(source types.SourceID) string {
	if sc, ok := p.sources[source]; ok && sc.MaxResults > 0 {
		return strconv.Itoa(sc.MaxResults)
	}
	return ""
}

func (p *Planner) params(source types.SourceID, entity, indication string, q types.Query) types.Params {
	params := types.Params{}
	set := func(k, v string) {
		if v != "" {
			params[k] = v
		}
	}

	switch source {
	case types.SourceClinicalTrials:
		set("intervention", entity)
		set("condition", indication)
		if !q.DateFrom.IsZero() {
			set("start_from", q.DateFrom.Format("2006-01-02"))
		}
		if !q.DateTo.IsZero() {
			set("start_to", q.DateTo.Format("2006-01-02"))
		}
		set("page_size", p.limit(source))
	case types.SourcePubChem:
		set("compound", entity)
	case types.SourcePubMed:
		set("term", strings.TrimSpace(entity+" "+indication))
		set("entity", entity)
		set("indication", indication)
		if !q.DateFrom.IsZero() {
			set("mindate", q.DateFrom.Format("2006/01/02"))
		}
		if !q.DateTo.IsZero() {
			set("maxdate", q.DateTo.Format("2006/01/02"))
		}
		set("retmax", p.limit(source))
	case types.SourceOpenFDA:
		set("drug", entity)
		set("limit", p.limit(source))
	}
	return params.Canonical()
}

// Sanitize trims s, collapses internal whitespace, and caps the result at
// MaxQueryLength characters.
func Sanitize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > MaxQueryLength {
		s = strings.TrimSpace(string(r[:MaxQueryLength]))
	}
	return s
}

// Terms returns the lowercased content terms of text in order, dropping
// English stop words and research filler words.
func Terms(text string) []string {
	var out []string
	for _, tok := range tokenize(strings.ToLower(Sanitize(text))) {
		if snowballeng.IsStopWord(tok) || fillerStems[snowballeng.Stem(tok, false)] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// tokenize splits on anything that is not a letter, digit, or an inner
// hyphen, so names like "5-fluorouracil" survive intact.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "-"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// withoutWords drops the terms that appear in phrase.
func withoutWords(terms []string, phrase string) []string {
	drop := make(map[string]bool)
	for _, w := range tokenize(strings.ToLower(phrase)) {
		drop[w] = true
	}
	var out []string
	for _, t := range terms {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}
