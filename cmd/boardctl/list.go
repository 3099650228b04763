package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/domain"
)

func (a *app) listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the board column by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			columns := domain.Columns
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				columns = []domain.Status{s}
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			tasks, err := c.ListTasks(cmd.Context())
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			return printBoard(cmd.OutOrStdout(), tasks, columns)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only print this column")
	return cmd
}

func printBoard(w io.Writer, tasks []domain.Task, columns []domain.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, col := range columns {
		fmt.Fprintf(tw, "%s\n", col)
		for i, t := range board.Column(tasks, col) {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%g\n", i, t.ID, t.Title, t.Position)
		}
	}
	return tw.Flush()
}
