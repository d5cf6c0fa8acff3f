package commands

import (
	"context"
	"fmt"
	"log/slog"

	"panelwatch/lib/serviceutil"
	"panelwatch/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	cfg     Config
	otelSdk telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "panelwatch",
	Short: "panelwatch keeps a browser session on the panel alive and publishes withdrawal snapshots.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		sdk, err := telemetry.SetupFromEnv(cmd.Context(), "panelwatch")
		if err != nil {
			slog.Warn("telemetry disabled", "err", err)
		}
		otelSdk = sdk

		cfg, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		err := otelSdk.Shutdown(context.Background())
		if err != nil {
			slog.Warn("flush telemetry", "err", err)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "panelwatch.json5", "The configuration file, a .local variant next to it overrides it.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("panelwatch failed", err)
	}
}
