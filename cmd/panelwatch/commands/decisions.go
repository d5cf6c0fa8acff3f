package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var decisionsLimit int

func init() {
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 50, "How many decisions to print, most recent first.")
	rootCmd.AddCommand(decisionsCmd)
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions [--limit <n>]",
	Short: "Lists the approve and reject decisions issued through the status api.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		decisions, err := s.ListDecisions(cmd.Context(), decisionsLimit)
		if err != nil {
			return err
		}
		renderDecisions(os.Stdout, decisions)
		return nil
	},
}
