package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget/checkpoint"
	"github.com/youssefsiam38/ctxbudget/storage"
)

// NewCheckpointCmd creates the checkpoint command group.
func NewCheckpointCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "Store, restore and inspect snapshot checkpoints",
		Long: `Checkpoints persist snapshots in the backend named by storage.driver.
The default memory backend forgets everything when the command exits, so
configure sqlite or postgres to keep checkpoints between runs.`,
	}

	cmd.AddCommand(newCheckpointCreateCmd(global))
	cmd.AddCommand(newCheckpointRestoreCmd(global))
	cmd.AddCommand(newCheckpointListCmd(global))
	cmd.AddCommand(newCheckpointTimelineCmd(global))
	cmd.AddCommand(newCheckpointPruneCmd(global))

	return cmd
}

type checkpointCreateOptions struct {
	name    string
	parent  string
	phase   string
	taskID  string
	session string
}

func newCheckpointCreateCmd(global *globalOptions) *cobra.Command {
	opts := &checkpointCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create [snapshot.json]",
		Short: "Store a snapshot and print the checkpoint id",
		Example: `  ctxbudget checkpoint create --name start session.json
  ctxbudget checkpoint create --name after-tools --parent 0f9c... session.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := readSnapshot(cmd, argOrStdin(args))
			if err != nil {
				return err
			}
			if opts.session != "" {
				snapshot.SessionID = opts.session
			}

			client, err := global.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			ctx := cmd.Context()
			if opts.parent != "" {
				// The parent must be indexed for a delta to be planned.
				if _, err := client.LoadSession(ctx, snapshot.SessionID); err != nil {
					return err
				}
			}

			id, err := client.Checkpoint(ctx, opts.name, client.Measure(snapshot), &checkpoint.Options{
				ParentID: opts.parent,
				Phase:    opts.phase,
				TaskID:   opts.taskID,
			})
			if err != nil {
				return err
			}

			meta, err := client.Checkpoints().Metadata(ctx, id)
			if err != nil {
				return err
			}
			if global.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), meta)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", successIcon, id,
				dim(fmt.Sprintf("(%s, depth %d, %s tokens)", meta.Kind, meta.Depth, humanize.Comma(int64(meta.Tokens.Total)))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "manual", "checkpoint name")
	cmd.Flags().StringVar(&opts.parent, "parent", "", "store as a delta of this checkpoint when possible")
	cmd.Flags().StringVar(&opts.phase, "phase", "", "phase label")
	cmd.Flags().StringVar(&opts.taskID, "task", "", "task id")
	cmd.Flags().StringVar(&opts.session, "session", "", "override the snapshot's session id")

	return cmd
}

func newCheckpointRestoreCmd(global *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Rebuild the snapshot a checkpoint captured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := global.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			snapshot, err := client.Restore(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeSnapshot(cmd.OutOrStdout(), output, snapshot)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "write the snapshot to a file")

	return cmd
}

type checkpointListOptions struct {
	session string
	phase   string
	typ     string
	limit   int
}

func newCheckpointListCmd(global *globalOptions) *cobra.Command {
	opts := &checkpointListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := storage.CheckpointType(opts.typ)
			if typ != "" && !typ.Valid() {
				return fmt.Errorf("unknown checkpoint type %q", opts.typ)
			}

			client, err := global.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			if _, err := client.LoadSession(cmd.Context(), opts.session); err != nil {
				return err
			}
			list := client.Checkpoints().List(storage.ListParams{
				SessionID: opts.session,
				Phase:     opts.phase,
				Type:      typ,
				Limit:     opts.limit,
			})

			if global.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			printCheckpoints(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.session, "session", "", "only this session")
	cmd.Flags().StringVar(&opts.phase, "phase", "", "only this phase")
	cmd.Flags().StringVar(&opts.typ, "type", "", "only this type: manual, automatic, phase_boundary or threshold")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of checkpoints (0 = all)")

	return cmd
}

func printCheckpoints(w io.Writer, list []*checkpoint.Metadata) {
	if len(list) == 0 {
		fmt.Fprintln(w, dim("No checkpoints found."))
		return
	}
	for _, m := range list {
		fmt.Fprintf(w, "%s  %-20s %-14s %-5s %10s  %s\n",
			m.ID, m.Name, m.Type, m.Kind,
			humanize.Comma(int64(m.Tokens.Total)),
			dim(humanize.Time(m.CreatedAt)),
		)
	}
}

func newCheckpointTimelineCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <session>",
		Short: "Show a session's checkpoints oldest first with token changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := global.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			sessionID := args[0]
			if _, err := client.LoadSession(cmd.Context(), sessionID); err != nil {
				return err
			}
			timeline := client.Checkpoints().Timeline(sessionID)

			out := cmd.OutOrStdout()
			if global.jsonOutput {
				return writeJSON(out, timeline)
			}
			if len(timeline) == 0 {
				fmt.Fprintln(out, dim("No checkpoints found."))
				return nil
			}
			for _, entry := range timeline {
				change := dim("±0")
				switch {
				case entry.TokenChange > 0:
					change = warning(fmt.Sprintf("+%s", humanize.Comma(int64(entry.TokenChange))))
				case entry.TokenChange < 0:
					change = success(humanize.Comma(int64(entry.TokenChange)))
				}
				fmt.Fprintf(out, "%s  %-20s %10s %s\n",
					entry.CreatedAt.Local().Format(time.DateTime), entry.Name,
					humanize.Comma(int64(entry.Tokens.Total)), change)
			}
			return nil
		},
	}
}

func newCheckpointPruneCmd(global *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired checkpoints, keeping ancestors of newer ones",
		Long: `Deletes checkpoints older than retention.max_age (or --older-than).
A checkpoint a newer delta still depends on is retained.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := global.newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close(cmd.Context())

			ctx := cmd.Context()
			if _, err := client.LoadSession(ctx, ""); err != nil {
				return err
			}

			var result *checkpoint.PruneResult
			if olderThan > 0 {
				result, err = client.Checkpoints().DeleteOlderThan(ctx, time.Now().Add(-olderThan))
			} else {
				result, err = client.Prune(ctx)
			}
			if err != nil {
				return err
			}

			if global.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %d, retained %d\n", successIcon, len(result.Deleted), len(result.Retained))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override retention.max_age")

	return cmd
}
