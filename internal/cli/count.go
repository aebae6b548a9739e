package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget/tokens"
)

type countOptions struct {
	contentType string
	detailed    bool
}

// NewCountCmd creates the count command.
func NewCountCmd(global *globalOptions) *cobra.Command {
	opts := &countOptions{}

	cmd := &cobra.Command{
		Use:   "count [file]",
		Short: "Estimate the tokens in a text",
		Example: `  ctxbudget count notes.md
  cat output.json | ctxbudget count --type structured
  ctxbudget count --detailed README.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd, global, opts, argOrStdin(args))
		},
	}

	cmd.Flags().StringVarP(&opts.contentType, "type", "t", string(tokens.ContentAuto), "content type: auto, code, prose, structured, markup or mixed")
	cmd.Flags().BoolVar(&opts.detailed, "detailed", false, "split the count into code, structured data and prose")

	return cmd
}

func runCount(cmd *cobra.Command, global *globalOptions, opts *countOptions, path string) error {
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

	out := cmd.OutOrStdout()
	text := string(data)

	if opts.detailed {
		detailed := client.Counter().CountDetailed(text)
		if global.jsonOutput {
			return writeJSON(out, detailed)
		}
		fmt.Fprintf(out, "%s %s tokens (%s characters)\n", bold("Total:"), humanize.Comma(int64(detailed.Total)), humanize.Comma(int64(detailed.Characters)))
		fmt.Fprintf(out, "  code        %s (%d blocks)\n", humanize.Comma(int64(detailed.Code)), detailed.CodeBlocks)
		fmt.Fprintf(out, "  structured  %s (%d blocks)\n", humanize.Comma(int64(detailed.Structured)), detailed.StructuredBlocks)
		fmt.Fprintf(out, "  prose       %s\n", humanize.Comma(int64(detailed.Prose)))
		return nil
	}

	if contentType == tokens.ContentAuto {
		contentType = tokens.DetectContentType(text)
	}
	count := client.Count(text, contentType)
	if global.jsonOutput {
		return writeJSON(out, count)
	}
	fmt.Fprintf(out, "%s tokens %s\n", humanize.Comma(int64(count.Total)), dim(fmt.Sprintf("(%s, %s characters)", contentType, humanize.Comma(int64(count.Characters)))))
	return nil
}

func parseContentType(s string) (tokens.ContentType, error) {
	switch ct := tokens.ContentType(s); ct {
	case tokens.ContentAuto, tokens.ContentCode, tokens.ContentProse,
		tokens.ContentStructured, tokens.ContentMarkup, tokens.ContentMixed:
		return ct, nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}
