package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vango-dev/hmr/internal/dev"
	"github.com/vango-dev/hmr/internal/logging"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"dev"},
		Short:   "Start the development server",
		Long: `Start the development server with hot module replacement.

The server scans every module, watches for changes, and tells
connected browsers which modules to swap or when to reload.

Examples:
  hmr serve
  hmr serve --port=8080
  hmr serve -C web --host=0.0.0.0
  HMR_DEV_PORT=4000 hmr serve`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "Port to run on (default from hmr.json)")
	cmd.Flags().StringP("host", "H", "", "Host to bind to (default from hmr.json)")
	cmd.Flags().Bool("no-hot", false, "Serve files without hot reload")
	cmd.Flags().String("path", "", "Hot reload endpoint path (default /_hmr)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]string{
		"dev.port": "port",
		"dev.host": "host",
		"hmr.path": "path",
	})
	if err != nil {
		return err
	}
	if noHot, _ := cmd.Flags().GetBool("no-hot"); noHot {
		cfg.Dev.HotReload = false
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	printBanner()
	fmt.Println("  serve")
	fmt.Println()
	info("Root:   %s", cfg.RootPath())
	info("URL:    %s", cfg.DevURL())
	if cfg.Dev.HotReload {
		info("HMR:    %s", cfg.HMR.Path)
	} else {
		warn("Hot reload disabled")
	}
	fmt.Println()

	server := dev.NewServer(dev.ServerOptions{
		Config: cfg,
		Logger: logger,
		OnChange: func(changes []dev.Change) {
			logger.Debug("batch handled", zap.Int("changes", len(changes)))
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		fmt.Println("\n\n  Shutting down...")
	}()

	if err := server.Start(ctx); err != nil {
		return err
	}
	success("Stopped")
	return nil
}
