package cmd

import (
	"encoding/csv"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/planner"
)

// NewRouteCommand creates the route command
func NewRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route <task-id>",
		Short: "Plan a task's route without dispatching it",
		Long: `Plan a task's route and print the command program as CSV.

The task record is not changed and nothing is written to the device
mailbox, so this is safe to run against live tasks.

Example:
  fleetd route TASK-3f2a91bc`,
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

			task, err := s.GetTaskByID(args[0])
			if err != nil {
				return fmt.Errorf("task %s not found: %w", args[0], err)
			}

			rows, err := planner.NewService(s).Plan(task)
			if err != nil {
				return fmt.Errorf("failed to plan route: %w", err)
			}

			w := csv.NewWriter(cmd.OutOrStdout())
			for _, row := range rows {
				if len(row) == 0 {
					// Preserve section breaks in the program.
					fmt.Fprintln(cmd.OutOrStdout())
					continue
				}
				if err := w.Write(row); err != nil {
					return err
				}
				w.Flush()
			}
			return w.Error()
		},
	}
}
