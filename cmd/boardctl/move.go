package main

import (
	"fmt"
	"slices"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/domain"
)

func (a *app) moveCmd() *cobra.Command {
	var server bool
	cmd := &cobra.Command{
		Use:   "move <task-id> <status> <index>",
		Short: "Move a task to an index of a column",
		Long: `Move a task to an index of a column.

By default the position is computed locally from the current board and
written with a task update; the local change is reverted if the write fails.
With --server the API computes the position against the stored board.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%w: index %q", domain.ErrInvalidArgument, args[2])
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if server {
				res, err := c.MoveTask(cmd.Context(), args[0], args[1], index)
				if err != nil {
					return fmt.Errorf("move task: %w", err)
				}
				fmt.Fprintf(out, "%s\t%s\t%g\n", res.Task.ID, res.Task.Status, res.Task.Position)
				if len(res.Rebalanced) > 0 {
					fmt.Fprintf(out, "rebalanced %d tasks\n", len(res.Rebalanced))
				}
				return nil
			}

			session := board.NewSession(c, stderrNotifier{w: cmd.ErrOrStderr()}, a.logger)
			if err := session.Load(cmd.Context()); err != nil {
				return fmt.Errorf("load board: %w", err)
			}
			req := board.MoveRequest{
				TaskID:            args[0],
				DestinationColumn: args[1],
				DestinationIndex:  index,
			}
			for _, t := range session.Tasks() {
				if t.ID != req.TaskID {
					continue
				}
				col := domain.NormalizeStatus(string(t.Status))
				req.SourceColumn = string(col)
				req.SourceIndex = slices.IndexFunc(session.Column(col), func(c domain.Task) bool { return c.ID == t.ID })
				break
			}
			m, err := session.Move(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.logger.WithFields(log.Fields{"task": req.TaskID, "state": m.State()}).Debug("move finished")
			fmt.Fprintf(out, "%s\t%s\t%g\n", m.Placement.TaskID, m.Placement.Status, m.Placement.Position)
			if n := len(m.Placement.Rebalanced); n > 0 {
				fmt.Fprintf(out, "rebalanced %d tasks\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&server, "server", false, "let the server compute the position")
	return cmd
}
