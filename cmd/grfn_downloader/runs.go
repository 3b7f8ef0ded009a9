package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/grfn_downloader/internal/storage"
	"github.com/italolelis/grfn_downloader/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

func newRunsCommand(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded retrieval runs",
		Long: `
The "runs" command reads the ledger at DB_PATH. Without arguments it lists
the most recent runs; given a run id it lists the outcome of every object in
that run.
`,
		Args:              cobra.MaximumNArgs(1),
		DisableAutoGenTag: true,
		RunE: func(c *cobra.Command, args []string) error {
			if opts.cfg.DBPath == "" {
				return errors.New("no ledger configured, set DB_PATH")
			}

			db, err := sqlite.InitDB(opts.cfg.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer db.Close()

			repo := sqlite.NewOutcomeReadRepository(db)

			if len(args) == 1 {
				return showRun(c.Context(), repo, c.OutOrStdout(), args[0])
			}

			return listRuns(c.Context(), repo, c.OutOrStdout(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")

	return cmd
}

func listRuns(ctx context.Context, repo storage.OutcomeReadRepository, w io.Writer, limit int) error {
	runs, err := repo.GetRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to read runs: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPATH\tSTARTED\tELAPSED\tSKIPPED\tCOMPLETE\tFAILED\tNOT ATTEMPTED\tBYTES")

	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.RunID,
			r.Key,
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Elapsed.Round(time.Second),
			r.Skipped,
			r.Complete,
			r.Failed,
			r.NotAttempted,
			humanize.Bytes(uint64(max(r.Bytes, 0))),
		)
	}

	return tw.Flush()
}

func showRun(ctx context.Context, repo storage.OutcomeReadRepository, w io.Writer, runID string) error {
	outcomes, err := repo.GetOutcomes(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to read outcomes: %w", err)
	}

	if len(outcomes) == 0 {
		return fmt.Errorf("no outcomes recorded for run %s", runID)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OBJECT\tSTATE\tPOLLS\tBYTES\tELAPSED\tERROR")

	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.ObjectID,
			o.State,
			o.Polls,
			humanize.Bytes(uint64(max(o.Bytes, 0))),
			o.Elapsed.Round(time.Second),
			o.Error,
		)
	}

	return tw.Flush()
}
