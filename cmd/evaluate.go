package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/consolidate"
	"github.com/sells-group/dealtrack/internal/pipeline"
	"github.com/sells-group/dealtrack/internal/risk"
	"github.com/sells-group/dealtrack/internal/schedule"
	"github.com/sells-group/dealtrack/internal/store"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run an evaluation pass over deal snapshots",
	Long:  "Reads deal snapshots (schedule candidates, source observations, milestones), links schedules, consolidates fields, derives progress and prints alerts as JSON lines.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		summary, _ := cmd.Flags().GetBool("summary")

		in, err := openInput(path)
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var sumOut io.Writer
		if summary {
			sumOut = os.Stderr
		}
		return runEvaluate(ctx, st, cfg, in, os.Stdout, sumOut, time.Time{})
	},
}

// runEvaluate writes alerts to out and, when summary is non-nil, a per-deal
// table to summary. A zero now uses the wall clock.
func runEvaluate(ctx context.Context, st store.Store, c *config.Config, in io.Reader, out, summary io.Writer, now time.Time) error {
	snaps, err := decodeList[pipeline.Snapshot](in)
	if err != nil {
		return err
	}
	consolidator, err := consolidate.FromConfig(c.Consolidate)
	if err != nil {
		return err
	}

	var sink pipeline.AlertSink = pipeline.NewJSONSink(out)
	if c.Pipeline.AlertWebhookURL != "" {
		sink = pipeline.MultiSink{sink, pipeline.NewWebhookSink(c.Pipeline.AlertWebhookURL)}
	}

	ev := pipeline.NewEvaluator(st,
		schedule.NewLinker(schedule.ConfigFrom(c.Linker)),
		consolidator,
		risk.NewEngine(risk.ThresholdsFrom(c.Risk)),
		sink,
		c.Pipeline.MaxConcurrentDeals,
	)
	if !now.IsZero() {
		ev.WithNow(now)
	}

	evals, err := ev.EvaluateAll(ctx, snaps)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}

	w := tabwriter.NewWriter(summary, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEAL\tLINK\tMATCH\tCHANGED\tDONE\tDWELL\tCONGESTION\tALERTS")
	for _, e := range evals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d/%d\t%s\t%s\t%d\n",
			e.DealID, e.Link.Outcome, e.Link.MatchType, e.Link.ScheduleChanged,
			e.Progress.Completed, e.Progress.Total, e.Dwell.Level, e.Congestion, len(e.Alerts))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if state := storeState(st); state != "" {
		fmt.Fprintf(summary, "\nStore circuit: %s\n", state)
	}
	return nil
}

func init() {
	evaluateCmd.Flags().StringP("file", "f", "-", "snapshots file (- for stdin)")
	evaluateCmd.Flags().Bool("summary", false, "print a per-deal summary table to stderr")
	rootCmd.AddCommand(evaluateCmd)
}
