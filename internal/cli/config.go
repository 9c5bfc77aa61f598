package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/security"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the dashboard configuration.",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
				data, err := yaml.Marshal(app.Config)
				if err != nil {
					return err
				}
				output.Printf("%s", data)
				return nil
			}
			showConfig(output, app.Config)
			return nil
		},
	}
	show.Flags().Bool("yaml", false, "print the effective configuration as YAML")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
				return
			}
			output.Println(dir)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration files",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err == nil {
				err = applyFlagOverrides(cmd, cfg)
			}
			if err != nil {
				if output.IsJSON() {
					output.JSON(map[string]interface{}{"valid": false, "error": err.Error()})
				} else {
					output.Error("Configuration validation failed: %v", err)
				}
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Dashboard")
	output.Printf("  Pairs:           %v\n", cfg.Dashboard.TrackedPairs)
	output.Printf("  Valuation:       %s\n", cfg.Dashboard.ValuationCurrency)
	output.Printf("  Discount token:  %s (fallback price %.2f)\n", cfg.Dashboard.DiscountCurrency, cfg.Dashboard.FallbackDiscountPrice)
	output.Printf("  Refresh:         %s\n", cfg.Dashboard.RefreshInterval)
	output.Printf("  Concurrency:     %d\n", cfg.Dashboard.FetchConcurrency)
	output.Println()

	output.Bold("Exchange")
	output.Printf("  Mode:            %s\n", cfg.Exchange.Mode)
	if cfg.IsReplayMode() {
		output.Printf("  Replay file:     %s\n", cfg.Exchange.ReplayFile)
	} else {
		output.Printf("  Endpoints:       %v\n", cfg.Exchange.BaseURLs)
		output.Printf("  Timeout:         %s\n", cfg.Exchange.Timeout)
		output.Printf("  Rate limit:      %.1f req/s\n", cfg.Exchange.RequestsPerSecond)
	}
	output.Printf("  API key:         %s\n", security.MaskCredential(cfg.Credentials.Binance.APIKey))
	output.Println()

	output.Bold("Server")
	output.Printf("  Listen:          %s\n", cfg.Server.ListenAddr)
	output.Printf("  Allow origin:    %s\n", cfg.Server.AllowOrigin)
	output.Printf("  History limit:   %d\n", cfg.Server.HistoryLimit)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	if cfg.Logging.File {
		output.Printf("  File:            %s\n", cfg.Logging.FilePath)
	}
	output.Printf("  Tracing:         %v\n", cfg.Tracing.Enabled)
}
