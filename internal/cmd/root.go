package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for fleetd
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleetd",
		Short: "Warehouse AMR fleet coordinator",
		Long: `Fleetd coordinates a fleet of autonomous mobile robots in a warehouse.

It plans routes over the zone map, dispatches tasks to devices through
per-device mailbox files, confirms execution with a bounded handshake,
and watches running tasks to completion.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .fleetd/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewTasksCommand())
	cmd.AddCommand(NewDevicesCommand())
	cmd.AddCommand(NewMapCommand())
	cmd.AddCommand(NewRouteCommand())
	cmd.AddCommand(NewSyncCommand())
	cmd.AddCommand(NewImportCommand())

	return cmd
}
