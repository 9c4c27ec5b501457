// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pharma-research/internal/aggregate"
	"github.com/pdiddy/pharma-research/internal/research"
	"github.com/pdiddy/pharma-research/pkg/types"
)

var researchCmd = &cobra.Command{
	Use:   "research [question]",
	Short: "Query every source in parallel and print a merged report",
	Long: `Research plans one task per source from the question (or from --entity and
--indication), runs them concurrently under a global timeout, and prints the
merged, deduplicated report. Sources that fail are reported as warnings; the
command fails only when every source failed or the query is invalid.`,
	Example: `  pharma-research research "aspirin in colorectal cancer"
  pharma-research research --entity metformin --indication "type 2 diabetes" --from 2020-01-01 --json`,
	RunE: runResearch,
}

func init() {
	addQueryFlags(researchCmd)
	researchCmd.Flags().Duration("timeout", 0, "global time budget (default from config, 120s)")
	researchCmd.Flags().Bool("no-cache", false, "bypass the response cache")
	researchCmd.Flags().Bool("json", false, "output the report as JSON")
	researchCmd.Flags().Bool("yaml", false, "output the report as YAML")
	researchCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	rootCmd.AddCommand(researchCmd)
}

// addQueryFlags registers the flags shared by research and plan.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("entity", "", "drug or compound name (default: extracted from the question)")
	cmd.Flags().String("indication", "", "disease or condition")
	cmd.Flags().String("from", "", "date range start (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "date range end (YYYY-MM-DD)")
	cmd.Flags().StringSlice("sources", nil, "restrict to sources: clinical_trials, openfda, pubchem, pubmed")
}

func queryFromFlags(cmd *cobra.Command, args []string) (types.Query, error) {
	f := cmd.Flags()
	in := research.Input{Text: strings.Join(args, " ")}
	in.Entity, _ = f.GetString("entity")
	in.Indication, _ = f.GetString("indication")
	in.From, _ = f.GetString("from")
	in.To, _ = f.GetString("to")
	in.Sources, _ = f.GetStringSlice("sources")
	return in.Query()
}

func runResearch(cmd *cobra.Command, args []string) error {
	q, err := queryFromFlags(cmd, args)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	noCache, _ := cmd.Flags().GetBool("no-cache")

	engine, err := newEngine(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	_, report, err := engine.Report(cmd.Context(), q, research.Options{Timeout: timeout, UseCache: !noCache})
	if err != nil {
		return err
	}

	if err := writeReport(cmd, report, cmd.OutOrStdout()); err != nil {
		return err
	}
	if report.Status == types.BundleFailed {
		return fmt.Errorf("every source failed")
	}
	return nil
}

func writeReport(cmd *cobra.Command, r types.Report, w io.Writer) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	asYAML, _ := cmd.Flags().GetBool("yaml")
	switch {
	case asJSON:
		return aggregate.FormatJSON(r, w)
	case asYAML:
		return aggregate.FormatYAML(r, w)
	default:
		aggregate.FormatTable(r, w)
		return nil
	}
}
