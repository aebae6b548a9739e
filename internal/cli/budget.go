package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget"
	"github.com/youssefsiam38/ctxbudget/budget"
)

type budgetOptions struct {
	apply bool
}

// NewBudgetCmd creates the budget command.
func NewBudgetCmd(global *globalOptions) *cobra.Command {
	opts := &budgetOptions{}

	cmd := &cobra.Command{
		Use:   "budget [snapshot.json]",
		Short: "Show how a snapshot fills the section budget",
		Long: `Allocates a snapshot's sections against the configured budget and prints
the per-section usage. System sections count against the system cap, tools
and files against tool results, everything else against conversation.
Sections that overflow their cap borrow from the reserve.

Once usage is critical a reallocation is suggested; --apply shows the
budget under the suggested caps.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBudget(cmd, global, opts, argOrStdin(args))
		},
	}

	cmd.Flags().BoolVar(&opts.apply, "apply", false, "apply the suggested reallocation")

	return cmd
}

type budgetReport struct {
	State        budget.State         `json:"state"`
	Exceeded     bool                 `json:"exceeded"`
	Reallocation *budget.Reallocation `json:"reallocation,omitempty"`
	Applied      bool                 `json:"applied"`
}

func runBudget(cmd *cobra.Command, global *globalOptions, opts *budgetOptions, path string) error {
	snapshot, err := readSnapshot(cmd, path)
	if err != nil {
		return err
	}

	client, err := global.newClient(cmd)
	if err != nil {
		return err
	}
	defer client.Close(cmd.Context())

	report := &budgetReport{}
	state, trackErr := client.Track(snapshot)
	if trackErr != nil && !errors.Is(trackErr, ctxbudget.ErrBudgetExceeded) {
		return trackErr
	}
	report.State = state
	report.Exceeded = trackErr != nil

	allocator := client.Allocator()
	report.Reallocation, _ = allocator.SuggestReallocation()
	if opts.apply && report.Reallocation != nil {
		if err := allocator.ApplyReallocation(report.Reallocation); err != nil {
			return err
		}
		report.Applied = true
		report.State = allocator.State()
	}

	out := cmd.OutOrStdout()
	if global.jsonOutput {
		return writeJSON(out, report)
	}

	if err := allocator.Visualize(out); err != nil {
		return err
	}
	if report.Exceeded {
		fmt.Fprintf(out, "%s %v\n", errorIcon, trackErr)
	}
	if report.Reallocation == nil {
		return nil
	}

	verb := "Suggested"
	if report.Applied {
		verb = "Applied"
	}
	fmt.Fprintf(out, "\n%s %s\n", bold(verb+" reallocation:"), dim(report.Reallocation.Reason))
	sections := make([]budget.Section, 0, len(report.Reallocation.Caps))
	for s := range report.Reallocation.Caps {
		sections = append(sections, s)
	}
	slices.Sort(sections)
	for _, s := range sections {
		fmt.Fprintf(out, "  %-14s %s\n", s, humanize.Comma(int64(report.Reallocation.Caps[s])))
	}
	fmt.Fprintf(out, "  %-14s %s\n", budget.SectionReserve, humanize.Comma(int64(report.Reallocation.Reserve)))
	return nil
}
