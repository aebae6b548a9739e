package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget/compaction"
	"github.com/youssefsiam38/ctxbudget/types"
)

type compressOptions struct {
	algorithm   string
	strategy    string
	contentType string
	stats       bool
}

// NewCompressCmd creates the compress command.
func NewCompressCmd(global *globalOptions) *cobra.Command {
	opts := &compressOptions{}

	cmd := &cobra.Command{
		Use:   "compress [file]",
		Short: "Compress a text with one algorithm or a strategy",
		Long: `Compresses a text and writes the result to stdout.

Use --algorithm for a single algorithm (minify, deduplicate, reference,
truncate, summarize) or --strategy for a bundled pipeline (conservative,
balanced, aggressive). Summarize needs ANTHROPIC_API_KEY.`,
		Example: `  ctxbudget compress --algorithm minify response.json
  ctxbudget compress --strategy balanced --stats build.log`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, global, opts, argOrStdin(args))
		},
	}

	cmd.Flags().StringVarP(&opts.algorithm, "algorithm", "a", "", "compression algorithm")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "compression strategy (default balanced)")
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", "auto", "content type: auto, code, prose, structured, markup or mixed")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "print token statistics to stderr")
	cmd.MarkFlagsMutuallyExclusive("algorithm", "strategy")

	return cmd
}

func runCompress(cmd *cobra.Command, global *globalOptions, opts *compressOptions, path string) error {
	contentType, err := parseContentType(opts.contentType)
	if err != nil {
		return err
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	client, err := global.newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	var result *compaction.Result
	if opts.algorithm != "" {
		result, err = client.Compress(cmd.Context(), string(data), types.Algorithm(opts.algorithm), contentType)
	} else {
		strategy := types.Strategy(opts.strategy)
		if strategy == "" {
			strategy = client.Config().Optimizer.DefaultStrategy
		}
		result, err = client.CompressWithStrategy(cmd.Context(), string(data), strategy, contentType)
	}
	if err != nil {
		return err
	}

	if global.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	if _, err := io.WriteString(cmd.OutOrStdout(), result.Compressed); err != nil {
		return err
	}
	if opts.stats {
		printCompressStats(cmd.ErrOrStderr(), result)
	}
	return nil
}

func printCompressStats(w io.Writer, result *compaction.Result) {
	fmt.Fprintf(w, "%s %s -> %s tokens, saved %s (ratio %.2f, quality %.2f)\n",
		successIcon,
		humanize.Comma(int64(result.OriginalTokens)),
		humanize.Comma(int64(result.CompressedTokens)),
		success(humanize.Comma(int64(result.TokensSaved))),
		result.Ratio,
		result.Quality,
	)
	for _, msg := range result.Warnings {
		fmt.Fprintf(w, "%s %s\n", warningIcon, warning(msg))
	}
}
