package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┬ ┬┌┬┐┬─┐
  ├─┤│││├┬┘
  ┴ ┴┴ ┴┴└─
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.PrintError(err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hmr",
		Short: "Hot module replacement dev server for native ES modules",
		Long: `hmr serves a directory of native ES modules and pushes updates to
the browser as files change.

Modules that call import.meta.hot.accept() are swapped in place;
everything else falls back to a full page reload.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("dir", "C", ".", "Project directory")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	rootCmd.AddCommand(
		serveCmd(),
		graphCmd(),
		initCmd(),
		versionCmd(),
	)

	return rootCmd
}

// loadConfig resolves configuration for cmd: defaults, then the config file
// in --dir, then HMR_* environment variables, then explicitly set flags.
// bindings maps config keys to flag names on cmd.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	dir, err := filepath.Abs(flagValue(cmd, "dir"))
	if err != nil {
		return nil, err
	}

	v := config.NewViper(dir)
	all := map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for key, flag := range bindings {
		all[key] = flag
	}
	for key, name := range all {
		flag := cmd.Flag(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, err
		}
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if cfg.Path() == "" && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(dir, cfg.Root)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagValue returns the named flag of cmd or any parent, or "".
func flagValue(cmd *cobra.Command, name string) string {
	if f := cmd.Flag(name); f != nil {
		return f.Value.String()
	}
	return ""
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
