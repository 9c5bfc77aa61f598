// Package cli provides the command-line interface for the P&L dashboard.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pnl-dashboard/internal/broker"
	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/dashboard"
	"pnl-dashboard/internal/logging"
	"pnl-dashboard/internal/tracing"
)

// Version information, overridden at build time with -ldflags.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

const skipConfigAnnotation = "skip-config"

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	shutdownTracing tracing.ShutdownFunc
	newProvider     func(cfg *config.Config, logger zerolog.Logger) (broker.Provider, error)
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{
		Logger:      zerolog.Nop(),
		newProvider: broker.New,
	}

	rootCmd := &cobra.Command{
		Use:   "pnl",
		Short: "Daily P&L dashboard for Binance spot trading",
		Long: `pnl reconciles today's Binance spot fills into FIFO-matched rounds and
reports realized and unrealized P&L net of fees for every tracked pair.

Credentials are read from credentials.toml in the config directory, or from
BINANCE_API_KEY and BINANCE_SECRET (a .env file is honoured).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/pnl-dashboard)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().String("replay", "", "serve fills from a replay fixture instead of the exchange")
	rootCmd.PersistentFlags().StringSlice("pairs", nil, "override the tracked pairs")

	rootCmd.AddCommand(newReportCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// init loads configuration, applies flag overrides, and sets up logging
// and tracing.
func (a *App) init(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.MaxSize = cfg.Logging.MaxSize
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAge = cfg.Logging.MaxAge
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	a.shutdownTracing, err = tracing.Init(cfg.Tracing, Version)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("tracing disabled")
		a.shutdownTracing = nil
	}

	a.Logger.Debug().
		Str("mode", cfg.Exchange.Mode).
		Strs("pairs", cfg.Dashboard.TrackedPairs).
		Bool("credentials", cfg.HasCredentials()).
		Msg("configuration loaded")
	return nil
}

func (a *App) close() error {
	if a.shutdownTracing == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdownTracing(ctx)
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if replay, _ := cmd.Flags().GetString("replay"); replay != "" {
		cfg.Exchange.Mode = "replay"
		cfg.Exchange.ReplayFile = replay
	}
	if pairs, _ := cmd.Flags().GetStringSlice("pairs"); len(pairs) > 0 {
		cfg.Dashboard.TrackedPairs = make([]string, 0, len(pairs))
		for _, p := range pairs {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				cfg.Dashboard.TrackedPairs = append(cfg.Dashboard.TrackedPairs, p)
			}
		}
	}
	return cfg.Validate()
}

// coordinator builds a provider and a coordinator over it from the loaded
// config.
func (a *App) coordinator(opts ...dashboard.Option) (*dashboard.Coordinator, broker.Provider, error) {
	provider, err := a.newProvider(a.Config, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	if !a.Config.IsReplayMode() && !a.Config.HasCredentials() {
		a.Logger.Warn().Msg("no API credentials configured, fills and balances will be unavailable")
	}
	return dashboard.NewCoordinator(provider, dashboard.OptionsFromConfig(a.Config), a.Logger, opts...), provider, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
				return
			}
			output.Printf("pnl v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
		},
	}
}
