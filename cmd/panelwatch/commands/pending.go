package commands

import (
	"encoding/json"
	"fmt"

	"panelwatch/internal/components/telemetry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pendingCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Lists pending withdrawals through the panel api with the persisted session token.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		client, err := newApiClient(cfg, s, telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		items, err := client.ListPending(cmd.Context())
		if err != nil {
			return err
		}
		for _, item := range items {
			out, err := json.MarshalIndent(item, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		fmt.Printf("%d pending\n", len(items))
		return nil
	},
}
