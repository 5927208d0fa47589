// README: dlq subcommand: inspect and requeue dead-lettered bids.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func dlqCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the bid dead-letter list",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Print dead-lettered messages as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			q, err := a.sharedQueue(cmd.Context(), "dlq")
			if err != nil {
				return err
			}
			dead, err := q.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, d := range dead {
				var body any = string(d.Body)
				if json.Valid(d.Body) {
					body = json.RawMessage(d.Body)
				}
				if err := enc.Encode(map[string]any{
					"id":           d.ID,
					"reason":       d.Reason,
					"deadAt":       d.DeadAt,
					"receiveCount": d.ReceiveCount,
					"body":         body,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of messages to print")

	requeue := &cobra.Command{
		Use:   "requeue <message-id>...",
		Short: "Move dead-lettered messages back to the ready queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			q, err := a.sharedQueue(cmd.Context(), "dlq")
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := q.Requeue(cmd.Context(), id); err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				a.log.Info("message requeued", "message_id", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}
