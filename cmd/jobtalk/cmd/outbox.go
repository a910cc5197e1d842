package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/store"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and manage queued messages",
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List messages awaiting delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		pending, err := st.PendingMessages()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("Outbox is empty.")
			return nil
		}
		for _, m := range pending {
			fmt.Printf("%s  %s  %s: %s\n",
				m.LocalID, m.CreatedAt.Format(time.RFC3339), m.ConversationID, m.Body)
		}
		return nil
	},
}

var outboxCancelCmd = &cobra.Command{
	Use:   "cancel <local-id>",
	Short: "Withdraw a pending message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		if err := eng.pipeline.Cancel(args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	},
}

var outboxRetryCmd = &cobra.Command{
	Use:   "retry <local-id>",
	Short: "Recompose a failed message",
	Long: `Composes a fresh message with a failed message's body. The failed
message keeps its id and stays in the thread; retrying never reuses one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		msg, err := eng.pipeline.Recompose(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("requeued as %s\n", msg.LocalID)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		final, err := eng.pipeline.AwaitTerminal(ctx, msg.LocalID)
		if err != nil {
			return nil // still pending; resumed on next run
		}
		if final.DeliveryState == store.DeliveryConfirmed {
			fmt.Printf("delivered %s as %s\n", final.LocalID, final.ServerID)
		}
		return nil
	},
}

var outboxFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver everything left pending",
	Long: `Resumes messages left pending by a previous run and waits for each to
reach a terminal state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		pending, err := eng.store.PendingMessages()
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("Outbox is empty.")
			return nil
		}

		if _, err := eng.pipeline.Resume(cmd.Context()); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		for _, m := range pending {
			final, err := eng.pipeline.AwaitTerminal(ctx, m.LocalID)
			if err != nil {
				return fmt.Errorf("flush interrupted: %w", err)
			}
			fmt.Printf("%s %s\n", stateGlyph(final.DeliveryState), final.LocalID)
		}
		return nil
	},
}

func init() {
	outboxCmd.AddCommand(outboxStatusCmd)
	outboxCmd.AddCommand(outboxCancelCmd)
	outboxCmd.AddCommand(outboxRetryCmd)
	outboxCmd.AddCommand(outboxFlushCmd)
	rootCmd.AddCommand(outboxCmd)
}
