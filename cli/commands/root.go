// Package commands implements the prisma-migrate CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baajur/prisma-engines/cli/internal/config"
	"github.com/baajur/prisma-engines/cli/internal/ui"
	"github.com/baajur/prisma-engines/cli/internal/version"
	"github.com/baajur/prisma-engines/internal/debug"
)

// flags shared by every subcommand; empty values fall back to the config
var (
	flagSchema        string
	flagURL           string
	flagMigrationsDir string
	flagDebug         bool
)

// Execute is the main entry point for the CLI
func Execute() error {
	rootCmd := &cobra.Command{
		Use:     "prisma-migrate",
		Short:   "Schema migration engine",
		Long:    "prisma-migrate converges a database onto a declared schema: it describes the live structure, diffs it against the desired one and applies the resulting DDL.",
		Version: version.Get().String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug.Init(flagDebug)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagSchema, "schema", "", "path to the desired schema file (canonical JSON)")
	rootCmd.PersistentFlags().StringVar(&flagURL, "url", "", "database URL (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&flagMigrationsDir, "migrations-dir", "", "path to the migrations directory")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(NewDiffCommand())
	rootCmd.AddCommand(NewPushCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewDevCommand())
	rootCmd.AddCommand(NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("%v", err)
		return err
	}
	return nil
}

// loadCLIConfig merges the config sources with the persistent flags
func loadCLIConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if flagSchema != "" {
		cfg.SchemaPath = flagSchema
	}
	if flagURL != "" {
		cfg.DatabaseURL = flagURL
	}
	if flagMigrationsDir != "" {
		cfg.MigrationsDir = flagMigrationsDir
	}
	if flagDebug {
		cfg.Debug = true
	}
	return cfg, nil
}
