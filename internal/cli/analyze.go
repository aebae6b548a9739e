package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget/analyzer"
	"github.com/youssefsiam38/ctxbudget/budget"
	"github.com/youssefsiam38/ctxbudget/types"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [snapshot.json]",
		Short: "Report usage, wasteful patterns and recommendations for a snapshot",
		Example: `  ctxbudget analyze session.json
  ctxbudget analyze --json session.json | jq .recommendations`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, global, argOrStdin(args))
		},
	}
}

func runAnalyze(cmd *cobra.Command, global *globalOptions, path string) error {
	snapshot, err := readSnapshot(cmd, path)
	if err != nil {
		return err
	}

	client, err := global.newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	analysis, err := client.Analyze(snapshot)
	if err != nil {
		return err
	}
	if global.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), analysis)
	}
	printAnalysis(cmd.OutOrStdout(), analysis)
	return nil
}

func printAnalysis(w io.Writer, analysis *analyzer.Analysis) {
	usage := analysis.Usage
	fmt.Fprintf(w, "%s %s / %s tokens (%.1f%%) %s\n",
		bold("Usage:"),
		humanize.Comma(int64(usage.TotalTokens)),
		humanize.Comma(int64(usage.BudgetLimit)),
		usage.BudgetUsedPercent,
		budget.StatusLabel(usage.WarningLevel),
	)
	for _, kind := range types.AllSectionKinds {
		section, ok := usage.Breakdown[kind]
		if !ok || section.Tokens == 0 {
			continue
		}
		fmt.Fprintf(w, "  %-14s %10s  %5.1f%%\n", kind, humanize.Comma(int64(section.Tokens)), section.Percentage)
	}

	fmt.Fprintf(w, "\n%s score %.2f, redundancy %.2f, compressibility %.2f\n",
		bold("Density:"),
		analysis.Density.Score,
		analysis.Density.Redundancy,
		analysis.Density.Compressibility,
	)

	if len(analysis.Patterns) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Patterns:"))
		for _, p := range analysis.Patterns {
			fmt.Fprintf(w, "  %s %s %s\n", warningIcon, p.Description,
				dim(fmt.Sprintf("(~%s tokens, %s)", humanize.Comma(int64(p.PotentialSavings)), p.Algorithm)))
		}
	}

	if len(analysis.Recommendations) == 0 {
		fmt.Fprintf(w, "\n%s nothing to recommend\n", successIcon)
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold("Recommendations:"))
	for _, r := range analysis.Recommendations {
		action := string(r.Algorithm)
		if r.Strategy != "" {
			action = string(r.Strategy)
		}
		fmt.Fprintf(w, "  %d. %s %s\n", r.Priority, r.Title,
			dim(fmt.Sprintf("(%s, %s risk, ~%s tokens)", info(action), r.Risk, humanize.Comma(int64(r.EstimatedSavings)))))
	}
}
