// Package cmd wires the dbvault command tree. Commands stay thin:
// they parse flags, build the runtime, and delegate to the internal
// packages that do the actual work.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"dbvault/internal/config"
	"dbvault/internal/logger"
)

// Shared across all commands, set by Execute
var (
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dbvault",
	Short: "Database backup restore service",
	Long: `dbvault restores database backups from remote storage backends.

It downloads, decrypts, and decompresses backup artifacts, verifies they
are compatible with the restore target, and drives the database engine's
own tools to load them. Run it as a long-lived service ("dbvault serve")
or fire one-shot restores from the command line ("dbvault restore").

Examples:
  # Start the restore service with its HTTP API
  dbvault serve

  # Restore a backup from configured storage into a configured target
  dbvault restore --storage s3-prod --file backups/orders.dump.gz --target pg-staging

  # Inspect configured adapters and test connectivity
  dbvault adapters list
  dbvault adapters test pg-staging`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree with the given configuration and logger
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l

	rootCmd.PersistentFlags().StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API listen address")
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the store, execution history, and master key")
	rootCmd.PersistentFlags().StringVar(&cfg.ScratchDir, "scratch-dir", cfg.ScratchDir, "staging directory for artifacts mid-restore")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(executionsCmd)
	rootCmd.AddCommand(adaptersCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd.ExecuteContext(ctx)
}
