package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pnl-dashboard/internal/broker"
	"pnl-dashboard/internal/dashboard"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/internal/server"
	"pnl-dashboard/internal/store"
	"pnl-dashboard/internal/stream"
)

func newReportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run one refresh cycle and print today's P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := app.coordinator()
			if err != nil {
				return err
			}
			report, err := coord.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			renderReport(output, report, app.Config.UI)
			return nil
		},
	}
}

func newPortfolioCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show account balances valued at current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, err := app.coordinator()
			if err != nil {
				return err
			}
			report, err := coord.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report.Portfolio)
			}
			renderPortfolio(output, report.Portfolio, app.Config.Dashboard.ValuationCurrency)
			return nil
		},
	}
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh the P&L report in the terminal until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := stream.NewHub(app.Logger)
			output := NewOutput(cmd)
			hub.RegisterConsumer(stream.ConsumerFunc(func(report *models.Report) {
				if output.IsJSON() {
					output.JSON(report)
					return
				}
				output.ClearScreen()
				renderReport(output, report, app.Config.UI)
				output.Println()
				output.Dim("Refreshing every %s. Ctrl+C to quit.", app.Config.Dashboard.RefreshInterval)
			}))
			hub.Start(ctx)
			defer hub.Stop()

			coord, _, err := app.coordinator(dashboard.WithHub(hub))
			if err != nil {
				return err
			}
			return coord.Run(ctx)
		},
	}
}

type endpointReporter interface {
	EndpointStats() []broker.EndpointStats
}

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and live feed while refreshing in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				app.Config.Server.ListenAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			journal, err := store.NewSQLiteStore()
			if err != nil {
				return err
			}
			defer journal.Close()

			hub := stream.NewHub(app.Logger)
			hub.Start(ctx)
			defer hub.Stop()

			coord, provider, err := app.coordinator(dashboard.WithHub(hub), dashboard.WithJournal(journal))
			if err != nil {
				return err
			}

			serverOpts := []server.Option{server.WithStaleAfter(3 * app.Config.Dashboard.RefreshInterval)}
			if ep, ok := provider.(endpointReporter); ok {
				serverOpts = append(serverOpts, server.WithHealthCheck("exchange", server.ExchangeHealthCheck(ep.EndpointStats)))
			}
			srv := server.New(app.Config.Server, hub, journal, app.Logger, serverOpts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return coord.Run(gctx) })
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			err = g.Wait()

			metrics := hub.GetMetrics()
			app.Logger.Info().
				Uint64("published", metrics.Published).
				Uint64("stale", metrics.Stale).
				Uint64("dropped", metrics.Dropped).
				Msg("dashboard server stopped")
			return err
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.listen_addr)")
	return cmd
}
