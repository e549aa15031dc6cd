package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probeshift/codectx/internal/engine"
	"github.com/probeshift/codectx/internal/pipeline"
)

func newIndexCmd() *cobra.Command {
	var (
		force   bool
		exts    []string
		ignores []string
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a codebase for semantic search",
		Long: `Index a codebase so its contents become searchable.

This walks the tree, splits files into chunks, embeds them, and stores
the vectors in a per-codebase collection. A snapshot of file hashes is
kept so later runs only touch what changed.

Use --force to drop an existing index and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			out := cmd.OutOrStdout()
			last := -1.0
			res, err := eng.IndexCodebase(ctx, path, engine.IndexOptions{
				Force:            force,
				CustomExtensions: exts,
				CustomIgnore:     ignores,
				Progress: func(p pipeline.Progress) {
					if p.Percent-last < 1 && p.Percent < 100 {
						return
					}
					last = p.Percent
					fmt.Fprintf(out, "\r%3.0f%%  %-60s", p.Percent, p.Phase)
				},
			})
			if last >= 0 {
				fmt.Fprintln(out)
			}
			if err != nil {
				return err
			}

			switch res.Status {
			case engine.StatusCollectionLimit:
				fmt.Fprintln(out, "Collection limit reached: clear an existing index before adding another.")
			case pipeline.StatusLimitReached:
				fmt.Fprintf(out, "Indexed %d files (%d chunks) at %s\n", res.IndexedFiles, res.TotalChunks, res.Path)
				fmt.Fprintln(out, "Chunk limit reached: remaining files were skipped.")
			default:
				fmt.Fprintf(out, "Indexed %d files (%d chunks) at %s\n", res.IndexedFiles, res.TotalChunks, res.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Drop any existing index and rebuild from scratch")
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "Additional file extensions to index (e.g. .proto)")
	cmd.Flags().StringSliceVar(&ignores, "ignore", nil, "Additional ignore patterns")

	return cmd
}
