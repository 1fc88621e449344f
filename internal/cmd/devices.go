package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/models"
)

// NewDevicesCommand creates the devices command group
func NewDevicesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage fleet devices",
	}
	cmd.AddCommand(newDevicesAddCommand())
	cmd.AddCommand(newDevicesListCommand())
	return cmd
}

func newDevicesAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <device-id>",
		Short: "Register or update a device",
		Long: `Register a device, or update its record if it already exists.

Examples:
  fleetd devices add amr-01 --map floor-1 --zone A1 --direction north
  fleetd devices add amr-02 --map floor-1 --forward-speed 350 --turning-speed 80`,
		Args: cobra.ExactArgs(1),
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

			name, _ := cmd.Flags().GetString("name")
			mapID, _ := cmd.Flags().GetString("map")
			zone, _ := cmd.Flags().GetString("zone")
			direction, _ := cmd.Flags().GetString("direction")
			forward, _ := cmd.Flags().GetInt("forward-speed")
			turning, _ := cmd.Flags().GetInt("turning-speed")
			vertical, _ := cmd.Flags().GetInt("vertical-speed")

			device := &models.Device{
				ID:            args[0],
				Name:          name,
				MapID:         mapID,
				CurrentZone:   zone,
				Direction:     direction,
				ForwardSpeed:  forward,
				TurningSpeed:  turning,
				VerticalSpeed: vertical,
				UpdatedAt:     time.Now(),
			}
			if err := s.UpsertDevice(device); err != nil {
				return fmt.Errorf("failed to save device %s: %w", device.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", device.ID)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().String("map", "", "Map the device operates on")
	cmd.Flags().String("zone", "", "Current zone")
	cmd.Flags().String("direction", "north", "Facing direction: north, south, east, west")
	cmd.Flags().Int("forward-speed", 0, "Speed parameter appended to forward commands")
	cmd.Flags().Int("turning-speed", 0, "Speed parameter appended to pivot and side commands")
	cmd.Flags().Int("vertical-speed", 0, "Lift speed for vertical move commands")
	cmd.MarkFlagRequired("map")

	return cmd
}

func newDevicesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Args:  cobra.NoArgs,
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

			devices, err := s.ListDevices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEVICE\tNAME\tMAP\tZONE\tDIRECTION\tUPDATED")
			for _, d := range devices {
				updated := "-"
				if !d.UpdatedAt.IsZero() {
					updated = d.UpdatedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Name, d.MapID, d.CurrentZone, d.Direction, updated)
			}
			return w.Flush()
		},
	}
}
