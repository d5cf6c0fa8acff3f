package commands

import (
	"context"
	"errors"
	"log/slog"

	"panelwatch/internal/publish"
	"panelwatch/internal/scan"
	"panelwatch/lib/serviceutil"
	"panelwatch/lib/telemetry"

	"github.com/spf13/cobra"
)

var runAddr string

func init() {
	runCmd.Flags().StringVar(&runAddr, "addr", "", "Overrides the address of the status api (http.addr).")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--addr <host:port>]",
	Short: "Runs the scan loop and serves the published snapshot until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := serviceutil.SignalContext()
		defer cancel()

		if runAddr != "" {
			cfg.Http.Addr = runAddr
		}
		telemetry.InstrumentPerfStats(ctx)

		a, err := newApp(ctx, cfg, cfg.Browser.Headed)
		if err != nil {
			return err
		}
		defer a.Close()

		board := publish.NewBoard(a.clock, a.tel, a.store)
		err = board.Restore(ctx)
		if err != nil {
			slog.Warn("restore last snapshot", "err", err)
		}

		handler := publish.NewHandler(board, a.tel, publish.HandlerOptions{
			Decider:   a.api,
			Decisions: a.store,
			Shutdown:  cancel,
		})

		// the server outlives the loop so the stopped snapshot stays readable
		serverCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		serverDone := make(chan error, 1)
		go func() {
			serverDone <- serviceutil.StartHttpServer(serverCtx, cfg.Http.Addr, handler.Router())
		}()

		o, err := a.orchestrator(board)
		if err != nil {
			stopServer()
			return err
		}
		err = o.Run(ctx)

		if errors.Is(err, scan.ErrStopped) {
			slog.Error("scan loop stopped, serving the last snapshot until interrupted")
			<-ctx.Done()
		}
		stopServer()
		serverErr := <-serverDone
		if serverErr != nil {
			slog.Warn("http server", "err", serverErr)
		}

		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}
