package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Long:    `Lists all conversations with at least one message, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		summaries, err := eng.index.ListConversations()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CONVERSATION\tPARTICIPANT\tJOB\tUNREAD\tLAST MESSAGE")
		for _, s := range summaries {
			preview := s.LastMessage.Body
			if len(preview) > 40 {
				preview = preview[:37] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ConversationID, s.ParticipantName, s.JobRef, s.UnreadCount, preview)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(conversationsCmd)
}
