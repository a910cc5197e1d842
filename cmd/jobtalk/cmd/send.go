package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/store"
)

var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <body>",
	Short: "Compose and deliver a message",
	Long: `Composes a message into the given conversation. The message is stored
pending immediately; delivery runs asynchronously. With --wait the
command blocks until the message reaches a terminal state.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		msg, err := eng.pipeline.Compose(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("queued %s (%s)\n", msg.LocalID, msg.DeliveryState)

		if sendWait <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), sendWait)
		defer cancel()
		final, err := eng.pipeline.AwaitTerminal(ctx, msg.LocalID)
		if err != nil {
			if final != nil {
				return fmt.Errorf("message %s still %s: %w", msg.LocalID, final.DeliveryState, err)
			}
			return err
		}

		switch final.DeliveryState {
		case store.DeliveryConfirmed:
			fmt.Printf("delivered %s as %s\n", final.LocalID, final.ServerID)
		default:
			fmt.Printf("delivery failed for %s\n", final.LocalID)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "how long to wait for delivery (0 to return immediately)")
	rootCmd.AddCommand(sendCmd)
}
