package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/fieldcheck/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage fieldcheck configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default user config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(nil)
			if err := loader.EnsureUserConfig(); err != nil {
				return fmt.Errorf("create user config: %w", err)
			}

			home, err := os.UserHomeDir()
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n",
					filepath.Join(home, config.UserConfigDir, config.UserConfigFile))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(nil).Load()
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, _ = cmd.OutOrStdout().Write(data)
			return nil
		},
	})

	return cmd
}
