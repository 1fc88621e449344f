package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/models"
	"github.com/harrison/fleetd/internal/store"
)

// NewTasksCommand creates the tasks command group
func NewTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage warehouse tasks",
	}
	cmd.AddCommand(newTasksCreateCommand())
	cmd.AddCommand(newTasksListCommand())
	cmd.AddCommand(newTasksCompleteCommand())
	cmd.AddCommand(newTasksCancelCommand())
	return cmd
}

func newTasksCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Long: `Create a task record.

Examples:
  fleetd tasks create --name "Pick order 4411" --map floor-1 --goal B3 --device amr-01
  fleetd tasks create --name "Restock C" --type storing --map floor-1 --start C1 --goal C7`,
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

			name, _ := cmd.Flags().GetString("name")
			taskType, _ := cmd.Flags().GetString("type")
			device, _ := cmd.Flags().GetString("device")
			mapID, _ := cmd.Flags().GetString("map")
			start, _ := cmd.Flags().GetString("start")
			goal, _ := cmd.Flags().GetString("goal")
			drop, _ := cmd.Flags().GetString("drop")

			task := &models.Task{
				TaskID:         models.NewTaskID(),
				Name:           name,
				Type:           models.TaskType(taskType),
				AssignedDevice: device,
				MapID:          mapID,
				StartZone:      start,
				GoalZone:       goal,
				DropZone:       drop,
				Status:         models.StatusCreated,
				CreatedAt:      time.Now(),
			}
			if err := task.Validate(); err != nil {
				return err
			}
			if _, err := s.CreateTask(task); err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", task.TaskID)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Task name")
	cmd.Flags().String("type", "picking", "Task type: picking, storing, auditing, charging")
	cmd.Flags().String("device", "", "Device to assign the task to")
	cmd.Flags().String("map", "", "Warehouse map id")
	cmd.Flags().String("start", "", "Start zone (defaults to the device's synced location)")
	cmd.Flags().String("goal", "", "Goal zone")
	cmd.Flags().String("drop", "", "Drop-off zone for picking tasks")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("map")
	cmd.MarkFlagRequired("goal")

	return cmd
}

func newTasksListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
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

			statusFlag, _ := cmd.Flags().GetString("status")
			deviceFlag, _ := cmd.Flags().GetString("device")

			var tasks []models.Task
			switch {
			case deviceFlag != "":
				tasks, err = s.ListTasksByDevice(deviceFlag)
			case statusFlag != "":
				tasks, err = s.ListTasksByStatus(models.ParseTaskStatus(statusFlag))
			default:
				tasks, err = s.ListTasks()
			}
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tNAME\tTYPE\tDEVICE\tGOAL\tSTATUS\tDURATION")
			for _, t := range tasks {
				duration := "-"
				if t.ActualDuration > 0 {
					duration = fmt.Sprintf("%dm", t.ActualDuration)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					t.TaskID, t.Name, t.Type, t.AssignedDevice, t.GoalZone, t.Status, duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("status", "", "Filter by status")
	cmd.Flags().String("device", "", "Filter by assigned device")
	return cmd
}

func newTasksCompleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task completed",
		Long: `Manually mark a task completed.

Normally the coordinator observes completion through the device mailbox;
this is the manual override for tasks finished out of band.`,
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
			if !models.CanTransition(task.Status, models.StatusCompleted) {
				return fmt.Errorf("task %s cannot complete from %s", args[0], task.Status)
			}

			completedAt := time.Now()
			fields := map[string]interface{}{
				"status":       models.StatusCompleted,
				"completed_at": completedAt,
			}
			if task.StartedAt != nil {
				fields["actual_duration"] = models.DurationMinutes(*task.StartedAt, completedAt)
			}
			if err := s.UpdateTask(task.PK, fields); err != nil {
				return fmt.Errorf("failed to complete task %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed %s\n", args[0])
			return nil
		},
	}
}

func newTasksCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
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

			return cancelTask(s, args[0], cmd.OutOrStdout())
		},
	}
}

func cancelTask(s *store.Store, taskID string, out io.Writer) error {
	task, err := s.GetTaskByID(taskID)
	if err != nil {
		return fmt.Errorf("task %s not found: %w", taskID, err)
	}
	if task.IsTerminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}
	if err := s.UpdateTask(task.PK, map[string]interface{}{
		"status": models.StatusCanceled,
	}); err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	fmt.Fprintf(out, "canceled %s\n", taskID)
	return nil
}
