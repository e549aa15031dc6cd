package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/probeshift/codectx/internal/engine"
	"github.com/probeshift/codectx/internal/registry"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show indexed codebases and their state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Status only needs the registry file, not the store or
			// embedding credentials.
			reg, err := registry.Load(cfg.RegistryPath(), cfg.Indexing.HybridMode)
			if err != nil {
				return err
			}

			entries := reg.All()
			if len(args) > 0 {
				resolved, err := engine.ResolvePath(args[0])
				if err != nil {
					return err
				}
				root, ok := reg.FindContainingIndex(resolved)
				if !ok {
					return fmt.Errorf("no indexed codebase contains %s", args[0])
				}
				info, err := reg.Info(root)
				if err != nil {
					return err
				}
				entries = []registry.Codebase{info}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No codebases indexed.")
				return nil
			}
			for _, cb := range entries {
				printCodebase(out, cb)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit status as JSON")
	return cmd
}

func printCodebase(out io.Writer, cb registry.Codebase) {
	fmt.Fprintf(out, "%s\n", cb.RootPath)
	fmt.Fprintf(out, "  status:   %s", cb.Status)
	if cb.Status == registry.StatusIndexing {
		fmt.Fprintf(out, " (%.0f%%)", cb.ProgressPercent)
	}
	fmt.Fprintln(out)
	if cb.Stats != nil {
		fmt.Fprintf(out, "  files:    %d\n", cb.Stats.Files)
		fmt.Fprintf(out, "  chunks:   %d\n", cb.Stats.Chunks)
	}
	if cb.ErrorMessage != "" {
		fmt.Fprintf(out, "  error:    %s\n", cb.ErrorMessage)
	}
	fmt.Fprintf(out, "  updated:  %s\n", time.UnixMilli(cb.LastUpdatedMS).Format(time.RFC3339))
}
