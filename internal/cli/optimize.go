package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget/budget"
	"github.com/youssefsiam38/ctxbudget/optimizer"
	"github.com/youssefsiam38/ctxbudget/types"
)

type optimizeOptions struct {
	strategy   string
	output     string
	checkpoint bool
	progress   bool
}

// NewOptimizeCmd creates the optimize command.
func NewOptimizeCmd(global *globalOptions) *cobra.Command {
	opts := &optimizeOptions{}

	cmd := &cobra.Command{
		Use:   "optimize [snapshot.json]",
		Short: "Compress a snapshot's sections once usage crosses the trigger level",
		Long: `Runs the optimization pipeline over a snapshot: measure, analyze,
compress every compressible section with the chosen strategy and
re-measure. Below the configured trigger level the snapshot is left as is.

By default this command is informational. Use -o to write the optimized
snapshot, and --checkpoint to store checkpoints before and after.`,
		Example: `  ctxbudget optimize session.json
  ctxbudget optimize --strategy aggressive -o optimized.json session.json
  ctxbudget optimize --checkpoint --progress session.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, global, opts, argOrStdin(args))
		},
	}

	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "compression strategy (default from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the optimized snapshot to a file (- for stdout)")
	cmd.Flags().BoolVar(&opts.checkpoint, "checkpoint", false, "store checkpoints before and after")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "print progress events to stderr")

	return cmd
}

func runOptimize(cmd *cobra.Command, global *globalOptions, opts *optimizeOptions, path string) error {
	snapshot, err := readSnapshot(cmd, path)
	if err != nil {
		return err
	}

	if opts.checkpoint {
		config, err := global.loadConfig()
		if err != nil {
			return err
		}
		config.Optimizer.AutoCheckpoint = true
		global = global.withConfig(config)
	}

	client, err := global.newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	var onProgress optimizer.ProgressFunc
	if opts.progress {
		stderr := cmd.ErrOrStderr()
		onProgress = func(event optimizer.Event) {
			fmt.Fprintf(stderr, "%s %5.1f%% %s\n", dim(string(event.Type)), event.Progress, event.Message)
		}
	}

	result, err := client.Optimize(cmd.Context(), snapshot, types.Strategy(opts.strategy), onProgress)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.output != "" {
		if err := writeSnapshot(out, opts.output, result.Snapshot); err != nil {
			return err
		}
		if opts.output == "-" {
			return nil
		}
	}
	if global.jsonOutput {
		return writeJSON(out, result)
	}
	printOptimizeResult(out, result)
	return nil
}

func printOptimizeResult(w io.Writer, result *optimizer.Result) {
	if !result.Triggered {
		fmt.Fprintf(w, "%s usage %s, nothing to optimize (%s tokens)\n",
			successIcon, budget.StatusLabel(result.Level), humanize.Comma(int64(result.OriginalTokens)))
		return
	}

	fmt.Fprintf(w, "%s %s -> %s tokens, saved %s (%.1f%%) with %s\n",
		successIcon,
		humanize.Comma(int64(result.OriginalTokens)),
		humanize.Comma(int64(result.OptimizedTokens)),
		success(humanize.Comma(int64(result.Savings))),
		result.PercentSaved,
		info(string(result.Strategy)),
	)
	fmt.Fprintf(w, "  level %s -> %s, quality %.2f, %s\n",
		budget.StatusLabel(result.Level), budget.StatusLabel(result.LevelAfter), result.Quality, result.Duration)

	for _, s := range result.Sections {
		name := s.Name
		if name == "" {
			name = string(s.Kind)
		}
		status := dim("kept")
		if !s.Kept {
			status = fmt.Sprintf("-%s", humanize.Comma(int64(s.OriginalTokens-s.OptimizedTokens)))
		}
		fmt.Fprintf(w, "  %-16s %8s -> %-8s %s\n", name,
			humanize.Comma(int64(s.OriginalTokens)), humanize.Comma(int64(s.OptimizedTokens)), status)
	}

	for _, msg := range result.Warnings {
		fmt.Fprintf(w, "%s %s\n", warningIcon, warning(msg))
	}
	for _, err := range result.Errors {
		fmt.Fprintf(w, "%s %v\n", errorIcon, err)
	}
	if result.CheckpointAfter != "" {
		fmt.Fprintf(w, "  checkpoints %s -> %s\n", dim(result.CheckpointBefore), info(result.CheckpointAfter))
	}
}
