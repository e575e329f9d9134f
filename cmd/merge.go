package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealtrack/internal/deal"
	"github.com/sells-group/dealtrack/internal/store"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <primary> <secondary>",
	Short: "Merge a duplicate deal into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runMerge(ctx, st, args[0], args[1], os.Stdout)
	},
}

func runMerge(ctx context.Context, st store.Store, primary, secondary string, out io.Writer) error {
	res := deal.NewMerger(st, deal.NewResolver(st)).MergeDeals(ctx, primary, secondary)
	return writeJSON(out, res)
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
