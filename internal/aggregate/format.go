// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package aggregate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pharma-research/pkg/types"
)

// FormatTable writes the report as human-readable tables to w.
func FormatTable(r types.Report, w io.Writer) {
	fmt.Fprintf(w, "Run %s  status: %s\n\n", r.RunID, r.Status)

	fmt.Fprintf(w, "%-16s  %-16s  %-7s  %-5s  %s\n", "Source", "Status", "Records", "Cache", "Error")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, s := range r.Sources {
		cached := ""
		if s.FromCache {
			cached = "hit"
		}
		fmt.Fprintf(w, "%-16s  %-16s  %-7d  %-5s  %s\n",
			s.Source, s.Status, s.RecordCount, cached, truncate(s.Error, 40))
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
	}

	fmt.Fprintln(w)
	if len(r.Facts) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	fmt.Fprintf(w, "%-4s  %-8s  %-14s  %-50s  %s\n", "#", "Kind", "ID", "Title", "Sources")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for i, f := range r.Facts {
		fmt.Fprintf(w, "%-4d  %-8s  %-14s  %-50s  %s\n",
			i+1, f.Kind, truncate(f.ID, 14), truncate(f.Title, 50), citedBy(f.Citations))
	}

	fmt.Fprintf(w, "\n%d facts", len(r.Facts))
	if r.DuplicatesRemoved > 0 {
		fmt.Fprintf(w, " (%d duplicates removed)", r.DuplicatesRemoved)
	}
	fmt.Fprintln(w)

	if len(r.Entities) > 0 {
		names := make([]string, 0, len(r.Entities))
		for _, e := range r.Entities {
			names = append(names, fmt.Sprintf("%s (%d)", e.Name, e.Mentions))
		}
		fmt.Fprintf(w, "Entities: %s\n", strings.Join(names, ", "))
	}
}

// FormatJSON writes the report as indented JSON to w.
func FormatJSON(r types.Report, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// FormatYAML writes the report as YAML to w.
func FormatYAML(r types.Report, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

func citedBy(cites []types.Citation) string {
	var out []string
	seen := make(map[types.SourceID]bool)
	for _, c := range cites {
		if !seen[c.Source] {
			seen[c.Source] = true
			out = append(out, string(c.Source))
		}
	}
	return strings.Join(out, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
