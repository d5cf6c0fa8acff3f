package commands

import (
	"context"
	"fmt"
	"time"

	"panelwatch/internal/scrapers/panel"
	"panelwatch/lib/serviceutil"

	"github.com/spf13/cobra"
)

var loginMaxWait time.Duration

func init() {
	loginCmd.Flags().DurationVar(&loginMaxWait, "max-wait", 0, "How long to wait for the login, defaults to scan.login_timeout.")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login [--max-wait <duration>]",
	Short: "Opens a visible browser on the panel and persists the session once someone logs in.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := serviceutil.SignalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		maxWait := loginMaxWait
		if maxWait <= 0 {
			maxWait = cfg.ScanOptions().LoginTimeout
		}

		state := a.session.ValidateOrRestore(ctx)
		if state == panel.SessionActive {
			fmt.Println("already logged in")
			return persist(ctx, a)
		}

		fmt.Printf("log in to %s in the browser window, waiting up to %s...\n", cfg.Origin(), maxWait)
		if !a.session.WaitForInteractiveLogin(ctx, maxWait) {
			return fmt.Errorf("no login within %s", maxWait)
		}
		return persist(ctx, a)
	},
}

func persist(ctx context.Context, a *app) error {
	err := a.session.Persist(ctx)
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	fmt.Println("session persisted")
	return nil
}
