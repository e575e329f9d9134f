package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealtrack/internal/deal"
	"github.com/sells-group/dealtrack/internal/store"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <identifier>",
	Short: "Find the canonical deal for an identifier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runResolve(ctx, st, args[0], os.Stdout, os.Stderr)
	},
}

// runResolve writes the canonical deal as JSON to out, or a note to errOut
// when nothing matches.
func runResolve(ctx context.Context, st store.Store, value string, out, errOut io.Writer) error {
	r := deal.NewResolver(st)
	id, ok := r.FindDealByIdentifier(ctx, value)
	if !ok {
		fmt.Fprintf(errOut, "No deal found for %q.\n", value)
		return nil
	}
	d, err := r.Canonical(ctx, id)
	if err != nil {
		return eris.Wrap(err, "resolve")
	}
	return writeJSON(out, d)
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
