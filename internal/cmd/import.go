package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/picklist"
)

// NewImportCommand creates the import command
func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <pick-list.md>",
		Short: "Import a markdown pick list as task records",
		Long: `Parse a markdown pick list and create one task per section.

The list's frontmatter supplies the map and default device; individual
sections can override both. Parsing is all-or-nothing: a malformed
section aborts the import before any task is created.

Example:
  fleetd import picklists/monday-morning.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open pick list: %w", err)
			}
			defer f.Close()

			list, err := picklist.NewParser().Parse(f)
			if err != nil {
				return fmt.Errorf("failed to parse pick list: %w", err)
			}
			if len(list.Drafts) == 0 {
				return fmt.Errorf("no tasks found in %s", args[0])
			}

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, draft := range list.Drafts {
				task := draft
				if _, err := s.CreateTask(&task); err != nil {
					return fmt.Errorf("failed to create task %q: %w", task.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s: %s\n", task.TaskID, task.Name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d task(s)\n", len(list.Drafts))
			return nil
		},
	}
}
