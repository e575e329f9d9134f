package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealtrack/internal/config"
	"github.com/sells-group/dealtrack/internal/pipeline"
	"github.com/sells-group/dealtrack/internal/resilience"
	"github.com/sells-group/dealtrack/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Link extracted messages to deals",
	Long:  "Reads messages (JSON array or JSON lines) and resolves, registers and merges their identifiers against the identity graph.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("file")
		asJSON, _ := cmd.Flags().GetBool("json")

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
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		return runIngest(ctx, st, cfg.Pipeline, in, os.Stdout, asJSON)
	},
}

func runIngest(ctx context.Context, st store.Store, pc config.PipelineConfig, in io.Reader, out io.Writer, asJSON bool) error {
	msgs, err := decodeList[pipeline.Message](in)
	if err != nil {
		return err
	}

	outcomes, err := pipeline.NewProcessor(st, pc).ProcessBatch(ctx, msgs)
	if err != nil {
		return err
	}
	if state := storeState(st); state != "" && state != resilience.CircuitClosed.String() {
		zap.L().Warn("ingest: store circuit not closed after batch", zap.String("state", state))
	}
	if asJSON {
		return writeJSON(out, outcomes)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MESSAGE\tDEAL\tCREATED\tCHANGED\tMERGES\tNOTE")
	for _, o := range outcomes {
		note := o.Skipped
		if o.Degraded {
			note = "store unavailable"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%s\n", o.MessageID, o.DealID, o.Created, o.Changed, len(o.Merges), note)
	}
	return w.Flush()
}

func init() {
	ingestCmd.Flags().StringP("file", "f", "-", "messages file (- for stdin)")
	ingestCmd.Flags().Bool("json", false, "print outcomes as JSON")
	rootCmd.AddCommand(ingestCmd)
}
