package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/store"
)

var (
	receiveServerID string
	receiveFrom     string
	receiveJobRef   string
)

var receiveCmd = &cobra.Command{
	Use:   "receive <conversation-id> <body>",
	Short: "Record an inbound peer message",
	Long: `Records a message received from the conversation peer. Inbound
messages are confirmed from the start and carry the server-assigned id;
this is the entry point an inbound sync layer calls.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if receiveServerID == "" {
			return fmt.Errorf("--server-id is required for inbound messages")
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		convID := args[0]
		if receiveFrom != "" || receiveJobRef != "" {
			if err := st.EnsureConversation(convID, receiveFrom, "", receiveJobRef); err != nil {
				return err
			}
		}

		msg, err := st.Append(&store.Message{
			LocalID:        "in-" + receiveServerID,
			ServerID:       receiveServerID,
			ConversationID: convID,
			SenderRole:     store.SenderPeer,
			Body:           args[1],
			CreatedAt:      time.Now().UTC(),
			DeliveryState:  store.DeliveryConfirmed,
		})
		if err != nil {
			return err
		}

		unread, err := st.CountUnread(convID)
		if err != nil {
			return err
		}
		fmt.Printf("received %s (%d unread)\n", msg.LocalID, unread)
		return nil
	},
}

func init() {
	receiveCmd.Flags().StringVar(&receiveServerID, "server-id", "", "server-assigned message id (required)")
	receiveCmd.Flags().StringVar(&receiveFrom, "from", "", "peer display name")
	receiveCmd.Flags().StringVar(&receiveJobRef, "job", "", "associated job reference")
	rootCmd.AddCommand(receiveCmd)
}
