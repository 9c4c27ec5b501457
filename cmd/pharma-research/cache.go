// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pharma-research/pkg/types"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the response cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached responses",
	Long:  `Clear removes every cached response, or only those of one source with --source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		engine, err := newEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		n, err := engine.ClearCache(cmd.Context(), types.SourceID(source))
		if err != nil {
			return err
		}
		scope := "all sources"
		if source != "" {
			scope = source
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached responses (%s).\n", n, scope)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and hit counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		stats, err := engine.CacheStats(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Fprintf(w, "Backend: %s\nEntries: %d\nBytes:   %d\n", stats.Backend, stats.Entries, stats.Bytes)
		ids := make([]string, 0, len(stats.BySource))
		for id := range stats.BySource {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %-16s %d\n", id, stats.BySource[types.SourceID(id)])
		}
		return nil
	},
}

func init() {
	cacheClearCmd.Flags().String("source", "", "clear only this source")
	cacheStatsCmd.Flags().Bool("json", false, "output stats as JSON")

	cacheCmd.AddCommand(cacheClearCmd, cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
}
