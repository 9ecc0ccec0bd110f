// Package commands implements the vdotapes command line.
package commands

import (
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	envFile    string
	logLevel   string
}

var globals globalOptions

// NewRootCmd creates the vdotapes root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vdotapes",
		Short: "Serve and maintain a vdotapes media catalog",
		Long: `vdotapes keeps the catalog of a video library: the scanned items and the
favorites, hidden flags, ratings, tags and settings layered on top of them.

Run "vdotapes serve" for the HTTP API, or use the maintenance commands to
migrate the store, move annotations in and out of backups and apply sync
documents without a running server.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&globals.configFile, "config", "", "TOML config file (default $VDOTAPES_CONFIG)")
	cmd.PersistentFlags().StringVar(&globals.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewMaintenanceCmd())
	cmd.AddCommand(NewBackupCmd())
	cmd.AddCommand(NewSyncCmd())
	cmd.AddCommand(NewSettingsCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
