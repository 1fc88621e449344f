package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/models"
)

// NewMapCommand creates the map command group
func NewMapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Manage the warehouse zone map",
	}
	cmd.AddCommand(newMapAddEdgeCommand())
	cmd.AddCommand(newMapSetNodeCommand())
	cmd.AddCommand(newMapAddStopCommand())
	return cmd
}

func newMapAddEdgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-edge",
		Short: "Add a zone connection",
		Long: `Add a directed zone connection to a map.

A two-way aisle needs two edges, one per direction of travel.

Examples:
  fleetd map add-edge --map floor-1 --from A1 --to A2 --distance 5.5 --direction north
  fleetd map add-edge --map floor-1 --from A2 --to A1 --distance 5.5 --direction south`,
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

			mapID, _ := cmd.Flags().GetString("map")
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			distance, _ := cmd.Flags().GetFloat64("distance")
			direction, _ := cmd.Flags().GetString("direction")

			id, err := s.AddZoneEdge(&models.ZoneEdge{
				MapID:     mapID,
				FromZone:  from,
				ToZone:    to,
				DistanceM: distance,
				Direction: direction,
			})
			if err != nil {
				return fmt.Errorf("failed to add zone edge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added connection %d: %s -> %s\n", id, from, to)
			return nil
		},
	}

	cmd.Flags().String("map", "", "Map id")
	cmd.Flags().String("from", "", "Origin zone")
	cmd.Flags().String("to", "", "Destination zone")
	cmd.Flags().Float64("distance", 0, "Traversal distance in meters")
	cmd.Flags().String("direction", "", "Compass direction of travel")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("distance")
	cmd.MarkFlagRequired("direction")

	return cmd
}

func newMapSetNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-node",
		Short: "Set a zone's map position",
		Long: `Set a zone's coordinates, used by the route planner's heuristic.

Zones without coordinates still route, just with a weaker search.

Example:
  fleetd map set-node --map floor-1 --zone A2 --x 0 --y 5.5`,
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

			mapID, _ := cmd.Flags().GetString("map")
			zone, _ := cmd.Flags().GetString("zone")
			x, _ := cmd.Flags().GetFloat64("x")
			y, _ := cmd.Flags().GetFloat64("y")

			if err := s.SetZoneNode(&models.ZoneNode{MapID: mapID, Zone: zone, X: x, Y: y}); err != nil {
				return fmt.Errorf("failed to set zone node: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s at (%.2f, %.2f)\n", zone, x, y)
			return nil
		},
	}

	cmd.Flags().String("map", "", "Map id")
	cmd.Flags().String("zone", "", "Zone name")
	cmd.Flags().Float64("x", 0, "Meters east of the map origin")
	cmd.Flags().Float64("y", 0, "Meters north of the map origin")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("zone")

	return cmd
}

func newMapAddStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-stop",
		Short: "Add a stop along a zone connection",
		Long: `Add a pick/store/audit stop positioned along a zone connection.

Example:
  fleetd map add-stop --map floor-1 --connection 3 --stop-id S12 \
    --distance 2.0 --side left --side-distance 2.5 --rack R12 --rack-height 1200`,
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

			mapID, _ := cmd.Flags().GetString("map")
			connection, _ := cmd.Flags().GetInt64("connection")
			stopID, _ := cmd.Flags().GetString("stop-id")
			name, _ := cmd.Flags().GetString("name")
			distance, _ := cmd.Flags().GetFloat64("distance")
			side, _ := cmd.Flags().GetString("side")
			sideDistance, _ := cmd.Flags().GetFloat64("side-distance")
			rackID, _ := cmd.Flags().GetString("rack")
			rackHeight, _ := cmd.Flags().GetFloat64("rack-height")

			stop := &models.Stop{
				MapID:          mapID,
				ConnectionID:   connection,
				StopID:         stopID,
				Name:           name,
				DistFromStartM: distance,
				StopType:       side,
				RackID:         rackID,
				RackDistanceMM: rackHeight,
			}
			switch side {
			case "left":
				stop.LeftBinsDistM = sideDistance
			case "right":
				stop.RightBinsDistM = sideDistance
			}

			id, err := s.AddStop(stop)
			if err != nil {
				return fmt.Errorf("failed to add stop: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added stop %d on connection %d\n", id, connection)
			return nil
		},
	}

	cmd.Flags().String("map", "", "Map id")
	cmd.Flags().Int64("connection", 0, "Zone connection id the stop sits on")
	cmd.Flags().String("stop-id", "", "Stop identifier")
	cmd.Flags().String("name", "", "Stop name")
	cmd.Flags().Float64("distance", 0, "Meters from the connection start")
	cmd.Flags().String("side", "", "Approach side: left, right, center")
	cmd.Flags().Float64("side-distance", 0, "Lateral approach distance in meters")
	cmd.Flags().String("rack", "", "Rack id at this stop")
	cmd.Flags().Float64("rack-height", 0, "Lift height in millimeters")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("connection")
	cmd.MarkFlagRequired("distance")

	return cmd
}
