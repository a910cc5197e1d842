package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/store"
)

// stateGlyph maps a delivery state to a one-character indicator.
func stateGlyph(state store.DeliveryState) string {
	switch state {
	case store.DeliveryPending:
		return "○"
	case store.DeliveryConfirmed:
		return "✓"
	case store.DeliveryFailed:
		return "✗"
	}
	return "?"
}

var threadCmd = &cobra.Command{
	Use:   "thread <conversation-id>",
	Short: "Show a conversation's messages",
	Long:  `Prints a conversation's messages in order, with delivery state markers.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		messages, err := st.ListByConversation(args[0])
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}

		for _, m := range messages {
			who := "me"
			if m.SenderRole == store.SenderPeer {
				who = "them"
			}
			fmt.Printf("%s %s [%s] %s: %s\n",
				stateGlyph(m.DeliveryState),
				m.CreatedAt.Format("2006-01-02 15:04:05"),
				m.LocalID, who, m.Body)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(threadCmd)
}
