package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkessler/jobtalk/internal/readstate"
)

var markReadLatest bool

var markReadCmd = &cobra.Command{
	Use:   "mark-read <conversation-id> [local-id]",
	Short: "Acknowledge messages as read",
	Long: `Advances the conversation's read marker to the given message, or to
the latest message with --latest. The marker only moves forward.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		convID := args[0]
		var localID string
		switch {
		case len(args) == 2:
			localID = args[1]
		case markReadLatest:
			latest, err := st.LatestMessage(convID)
			if err != nil {
				return err
			}
			if latest == nil {
				fmt.Println("No messages to mark read.")
				return nil
			}
			localID = latest.LocalID
		default:
			return fmt.Errorf("provide a local-id or --latest")
		}

		tracker := readstate.New(st)
		if err := tracker.MarkRead(convID, localID); err != nil {
			return err
		}

		unread, err := tracker.UnreadCount(convID)
		if err != nil {
			return err
		}
		fmt.Printf("read up to %s (%d unread)\n", localID, unread)
		return nil
	},
}

func init() {
	markReadCmd.Flags().BoolVar(&markReadLatest, "latest", false, "mark everything read")
	rootCmd.AddCommand(markReadCmd)
}
