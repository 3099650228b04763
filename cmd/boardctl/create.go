package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) createCmd() *cobra.Command {
	var status, notes string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Add a task at the end of a column",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			task, err := c.CreateTask(cmd.Context(), strings.Join(args, " "), notes, status)
			if err != nil {
				return fmt.Errorf("create task: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%g\n", task.ID, task.Status, task.Position)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "column for the new task (default TODO)")
	cmd.Flags().StringVar(&notes, "notes", "", "task notes")
	return cmd
}
