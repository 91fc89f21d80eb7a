package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/db/models"
)

// GetStatusCmd returns the status command
func GetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [consignment-id]",
		Short: "Show sync health, or one consignment when an id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			if len(args) == 1 {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid consignment id: %s", args[0])
				}
				c, err := app.lifecycle.Get(app.ctx, uint(id))
				if err != nil {
					return err
				}
				cmd.Println(fmt.Sprintf("consignment %d (%s)", c.ID, c.Reference))
				cmd.Println(fmt.Sprintf("  state:   %s (version %d, pushed %d)", c.State, c.Version, c.PushedVersion))
				if c.VendID != nil {
					cmd.Println(fmt.Sprintf("  remote:  %s (version %d)", *c.VendID, c.VendVersion))
				} else {
					cmd.Println("  remote:  not yet pushed")
				}
				for _, item := range c.Items {
					line := fmt.Sprintf("  item %d: %s x%d", item.ID, item.ProductID, item.Quantity)
					if item.ReceivedQty != nil {
						line += fmt.Sprintf(" received=%d", *item.ReceivedQty)
					}
					if item.Discrepancy != "" {
						line += " [" + item.Discrepancy + "]"
					}
					cmd.Println(line)
				}
				return nil
			}

			cursor, err := app.engine.CursorStatus(app.ctx)
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("pull cursor: id=%q at=%s", cursor.LastProcessedID, cursor.LastProcessedAt))
			if cursor.Stale(app.cfg.CursorStaleAfter) {
				cmd.Println(fmt.Sprintf("warning: cursor has not advanced in over %s", app.cfg.CursorStaleAfter))
			}

			stats, err := app.queue.Stats(app.ctx)
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("queue: pending=%d processing=%d failed=%d dead-letters=%d",
				stats.ByStatus[models.JobStatusPending], stats.ByStatus[models.JobStatusProcessing],
				stats.ByStatus[models.JobStatusFailed], stats.DLQDepth))
			return nil
		},
	}
}

// GetTransitionCmd returns the transition command
func GetTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <consignment-id> <event>",
		Short: "Apply a lifecycle event (pack, send, receive_start, receive, cancel)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid consignment id: %s", args[0])
			}
			event, err := consignment.ParseEvent(args[1])
			if err != nil {
				return err
			}

			app, err := bootstrap()
			if err != nil {
				return err
			}
			defer app.close()

			c, err := app.lifecycle.Transition(app.ctx, uint(id), event)
			if err != nil {
				return err
			}
			cmd.Println(fmt.Sprintf("consignment %d is now %s (version %d)", c.ID, c.State, c.Version))
			return nil
		},
	}
}
