package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("Messages:      %d\n", stats.MessageCount)
		fmt.Printf("Conversations: %d\n", stats.ConversationCount)
		fmt.Printf("Pending:       %d\n", stats.PendingCount)
		fmt.Printf("Failed:        %d\n", stats.FailedCount)
		if stats.DatabaseSize > 0 {
			fmt.Printf("Database size: %.1f KB\n", float64(stats.DatabaseSize)/1024)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
