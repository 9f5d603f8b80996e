package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vango-dev/hmr/internal/config"
	"github.com/vango-dev/hmr/internal/errors"
)

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default hmr.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := flagValue(cmd, "dir")
			if config.Exists(dir) && !force {
				return errors.Newf(errors.CategoryConfig, "config already exists in %s", dir).
					WithSuggestion("Pass --force to overwrite it")
			}

			path := filepath.Join(dir, config.ConfigFileName)
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")

	return cmd
}
