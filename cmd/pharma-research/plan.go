// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pharma-research/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan [question]",
	Short: "Print the tasks a research query would run",
	Long: `Plan shows the per-source task descriptors for a question without
contacting any source: the extracted parameters, priority, and order.`,
	RunE: runPlan,
}

func init() {
	addQueryFlags(planCmd)
	planCmd.Flags().Bool("json", false, "output tasks as JSON")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	tasks, err := planner.New(cfg.Sources).Plan(q)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	fmt.Fprintf(w, "%-8s  %-16s  %s\n", "Priority", "Source", "Params")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, t := range tasks {
		fmt.Fprintf(w, "%-8d  %-16s  %s\n", t.Priority, t.Source, t.Params.Key())
	}
	return nil
}
