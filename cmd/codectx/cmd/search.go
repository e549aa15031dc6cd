package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/probeshift/codectx/internal/engine"
)

func newSearchCmd() *cobra.Command {
	var (
		limit     int
		exts      []string
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query> [path]",
		Short: "Search an indexed codebase with a natural-language query",
		Long: `Search retrieves the code chunks most relevant to a query.

The path (default ".") selects which index to search; a subdirectory of
an indexed codebase restricts results to that subtree.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			queryText := args[0]
			path := "."
			if len(args) > 1 {
				path = args[1]
			}

			eng, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			opts := engine.SearchOptions{Limit: limit, Extensions: exts}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = &threshold
			}

			hits, err := eng.SearchCode(ctx, path, queryText, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}

			if len(hits) == 0 {
				fmt.Fprintln(out, "No results.")
				return nil
			}
			for i, h := range hits {
				fmt.Fprintf(out, "%d. %s:%d-%d  (%.2f)\n", i+1, h.RelativePath, h.StartLine, h.EndLine, h.Score)
				for _, line := range strings.Split(strings.TrimRight(h.Content, "\n"), "\n") {
					fmt.Fprintf(out, "   %s\n", line)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "Restrict results to file extensions (e.g. .go,.py)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum score; 0 disables filtering")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit results as JSON")

	return cmd
}
