package commands

import (
	"errors"
	"fmt"
	"os"

	"panelwatch/internal/store"

	"github.com/spf13/cobra"
)

func init() {
	sessionCmd.AddCommand(sessionInspectCmd)
	rootCmd.AddCommand(sessionCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspects the persisted browser session.",
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Prints the persisted localStorage keys and cookies, values are truncated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		creds, err := s.LoadCredentials(cmd.Context())
		if errors.Is(err, store.ErrNotFound) {
			fmt.Println("no session persisted yet, run `panelwatch login`")
			return nil
		}
		if err != nil {
			return err
		}
		renderCredentials(os.Stdout, creds)
		return nil
	},
}
