package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/locsync"
)

// NewSyncCommand creates the sync command
func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh device locations from telemetry",
		Long: `Run one location sync cycle over all registered devices.

Each device's latest telemetry reading is folded into its record. The
run command does this continuously; sync is the one-shot variant for
scripts and debugging.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			log := newLogger(cfg)
			client := newRemoteClient(cfg)
			var reporter locsync.LocationReporter
			if client != nil {
				reporter = client
			}

			svc := locsync.NewService(s, locsync.NewFileTelemetry(cfg.DataDir), reporter, log, cfg.LocationSyncInterval)
			stats := svc.RunOnce(cmd.Context())

			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, skipped %d, errors %d\n",
				stats.Synced, stats.Skipped, stats.Errors)
			if stats.Errors > 0 {
				return fmt.Errorf("%d device(s) failed to sync", stats.Errors)
			}
			return nil
		},
	}
}
