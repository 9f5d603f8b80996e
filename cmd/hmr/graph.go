package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/dev"
	"github.com/vango-dev/hmr/internal/errors"
)

func graphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the module dependency graph",
		Long: `Scan every module under the project root and print the import graph.

Formats:
  dot    Graphviz (default). Hot-enabled modules are drawn as boxes.
  json   One object per module with dependencies and dependents.

Examples:
  hmr graph | dot -Tsvg > graph.svg
  hmr graph --format=json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			server := dev.NewServer(dev.ServerOptions{Config: cfg})
			if _, err := server.ScanAll(); err != nil {
				return err
			}
			snap := server.Engine().Graph().Snapshot()

			out := cmd.OutOrStdout()
			switch format {
			case "dot":
				fmt.Fprint(out, snap.DOT())
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			default:
				return errors.Newf(errors.CategoryCLI, "unknown format %q", format).
					WithSuggestion("Use --format=dot or --format=json")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "dot", "Output format (dot, json)")

	return cmd
}
