package commands

import (
	"os"

	"panelwatch/internal/publish"
	"panelwatch/lib/serviceutil"

	"github.com/spf13/cobra"
)

var scanRecords bool

func init() {
	scanCmd.Flags().BoolVar(&scanRecords, "records", false, "Also print every visible record.")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [--records]",
	Short: "Checks the session, runs a single scan cycle and prints it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := serviceutil.SignalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, cfg.Browser.Headed)
		if err != nil {
			return err
		}
		defer a.Close()

		o, err := a.orchestrator(publish.NewBoard(a.clock, a.tel, nil))
		if err != nil {
			return err
		}
		result, err := o.RunOnce(ctx)
		if err != nil {
			return err
		}

		renderBuckets(os.Stdout, result)
		if scanRecords {
			renderRecords(os.Stdout, result)
		}
		return a.session.Persist(ctx)
	},
}
