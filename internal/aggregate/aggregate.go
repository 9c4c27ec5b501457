// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package aggregate merges a ResultBundle into a deduplicated, cited report
// model. Aggregation is pure: the same bundle always yields the same report,
// whatever order its results arrive in.
package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	snowballeng "github.com/kljensen/snowball/english"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// Aggregate builds the report for b.
func Aggregate(b types.ResultBundle) types.Report {
	results := make([]types.SourceResult, len(b.Results))
	copy(results, b.Results)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Source != results[j].Source {
			return results[i].Source < results[j].Source
		}
		return results[i].Params.Key() < results[j].Params.Key()
	})

	r := types.Report{
		RunID:  b.RunID,
		Query:  b.Query,
		Status: b.Status,
	}
	if r.Status == "" {
		r.Status = types.ComputeStatus(results)
	}

	for _, res := range results {
		r.Sources = append(r.Sources, summarize(res))
	}
	r.Facts, r.DuplicatesRemoved = deduplicate(results)
	r.Entities = mergeEntities(results)
	r.Warnings = warnings(r.Status, results)
	return r
}

func summarize(res types.SourceResult) types.SourceSummary {
	return types.SourceSummary{
		Source:      res.Source,
		Status:      res.Status,
		FromCache:   res.FromCache,
		FetchedAt:   res.FetchedAt,
		RecordCount: len(res.Payload.Records),
		Total:       res.Payload.Total,
		Error:       res.Error,
		ErrorKind:   res.ErrorKind,
	}
}

// deduplicate merges records that share (kind, id) or a normalized title
// within the same kind, keeping a citation for every record folded in.
func deduplicate(results []types.SourceResult) ([]types.Fact, int) {
	seen := make(map[string]int) // dedup key → index in facts
	var facts []types.Fact
	removed := 0

	for _, res := range results {
		if !res.Status.Succeeded() {
			continue
		}
		for _, rec := range res.Payload.Records {
			cite := types.Citation{Source: res.Source, RecordID: rec.ID, URL: rec.URL}

			idKey := dedupKey(rec)
			if idx, ok := seen[idKey]; ok && idKey != "" {
				mergeInto(&facts[idx], rec, cite)
				removed++
				continue
			}

			titleKey := ""
			if t := normalizeTitle(rec.Title); t != "" {
				titleKey = "title:" + rec.Kind + ":" + t
				if idx, ok := seen[titleKey]; ok {
					mergeInto(&facts[idx], rec, cite)
					removed++
					continue
				}
			}

			idx := len(facts)
			facts = append(facts, types.Fact{
				Kind:      rec.Kind,
				ID:        rec.ID,
				Title:     rec.Title,
				Date:      rec.Date,
				Fields:    copyFields(rec.Fields),
				Citations: []types.Citation{cite},
			})
			if idKey != "" {
				seen[idKey] = idx
			}
			if titleKey != "" {
				seen[titleKey] = idx
			}
		}
	}
	return facts, removed
}

func dedupKey(rec types.Record) string {
	if rec.ID == "" {
		return ""
	}
	return "id:" + rec.Kind + ":" + strings.ToLower(rec.ID)
}

// mergeInto fills empty fields of dst from src and records the citation.
func mergeInto(dst *types.Fact, src types.Record, cite types.Citation) {
	if dst.Title == "" && src.Title != "" {
		dst.Title = src.Title
	}
	if dst.Date == "" && src.Date != "" {
		dst.Date = src.Date
	}
	if dst.ID == "" && src.ID != "" {
		dst.ID = src.ID
	}
	for k, v := range src.Fields {
		if _, ok := dst.Fields[k]; !ok {
			if dst.Fields == nil {
				dst.Fields = make(map[string]any)
			}
			dst.Fields[k] = v
		}
	}
	for _, c := range dst.Citations {
		if c.Source == cite.Source && c.RecordID == cite.RecordID {
			return
		}
	}
	dst.Citations = append(dst.Citations, cite)
}

func copyFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// normalizeTitle returns a lowercased, punctuation-stripped version of the title.
func normalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// EntityKey normalizes a drug or condition name for cross-source matching:
// punctuation stripped, lowercased, every word stemmed.
func EntityKey(name string) string {
	words := strings.Fields(normalizeTitle(name))
	for i, w := range words {
		words[i] = snowballeng.Stem(w, false)
	}
	return strings.Join(words, " ")
}

type entityAcc struct {
	entity  types.Entity
	sources map[types.SourceID]bool
}

// mergeEntities counts the records naming each entity. A name repeated in
// one record counts once.
func mergeEntities(results []types.SourceResult) []types.Entity {
	acc := make(map[string]*entityAcc)
	for _, res := range results {
		if !res.Status.Succeeded() {
			continue
		}
		for _, rec := range res.Payload.Records {
			inRecord := make(map[string]bool)
			for _, name := range rec.Entities {
				key := EntityKey(name)
				if key == "" || inRecord[key] {
					continue
				}
				inRecord[key] = true

				a, ok := acc[key]
				if !ok {
					a = &entityAcc{
						entity:  types.Entity{Key: key, Name: strings.TrimSpace(name)},
						sources: make(map[types.SourceID]bool),
					}
					acc[key] = a
				}
				a.entity.Mentions++
				a.sources[res.Source] = true
			}
		}
	}

	out := make([]types.Entity, 0, len(acc))
	for _, a := range acc {
		for s := range a.sources {
			a.entity.Sources = append(a.entity.Sources, s)
		}
		sort.Slice(a.entity.Sources, func(i, j int) bool { return a.entity.Sources[i] < a.entity.Sources[j] })
		out = append(out, a.entity)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func warnings(status types.BundleStatus, results []types.SourceResult) []string {
	var out []string
	failed, incomplete := 0, 0
	for _, res := range results {
		switch res.Status {
		case types.StatusFailure:
			failed++
			out = append(out, fmt.Sprintf("%s: no data (%s): %s", res.Source, orUnknown(res.ErrorKind), res.Error))
		case types.StatusPartialFailure:
			incomplete++
			out = append(out, fmt.Sprintf("%s: incomplete data: %s", res.Source, res.Error))
		}
	}
	switch status {
	case types.BundleFailed:
		out = append([]string{"every source failed; the report contains no data"}, out...)
	case types.BundlePartial:
		headline := fmt.Sprintf("%d of %d sources failed; the report is partial", failed, len(results))
		if failed == 0 {
			headline = fmt.Sprintf("%d of %d sources returned incomplete data; the report is partial", incomplete, len(results))
		}
		out = append([]string{headline}, out...)
	}
	return out
}

func orUnknown(k types.ErrorKind) string {
	if k == types.KindNone {
		return "unknown"
	}
	return string(k)
}
