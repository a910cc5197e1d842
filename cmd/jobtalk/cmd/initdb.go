package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Initialize the database",
	Long:  `Creates the jobtalk database and schema if they don't exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("Database initialized at %s\n", cfg.DatabasePath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initdbCmd)
}
