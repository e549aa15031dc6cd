package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/probeshift/codectx/internal/reconcile"
)

func newWatchCmd() *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep indexed codebases in sync with their sources",
		Long: `Watch periodically diffs every indexed codebase against its stored
snapshot and applies incremental updates, repairing drift from edits
made while no command was running.

Runs until interrupted. With --once a single reconciliation pass runs
synchronously and the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			out := cmd.OutOrStdout()
			n := eng.Registry().Len()
			if n == 0 {
				fmt.Fprintln(out, "No codebases indexed; nothing to watch.")
				return nil
			}

			if once {
				eng.ReconcileOnce(ctx)
				fmt.Fprintf(out, "Reconciled %d codebase(s).\n", n)
				return nil
			}

			eng.SetReconcileCadence(interval, reconcile.DefaultInitialDelay)
			eng.StartReconciler(ctx)
			fmt.Fprintf(out, "Watching %d codebase(s); press Ctrl-C to stop.\n", n)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", reconcile.DefaultInterval, "Time between reconciliation passes")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single reconciliation pass and exit")

	return cmd
}
