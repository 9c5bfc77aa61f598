// Package config provides configuration management for the P&L dashboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "pnl-dashboard/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Dashboard   DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
	Exchange    ExchangeConfig  `mapstructure:"exchange" yaml:"exchange"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing     TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	UI          UIConfig        `mapstructure:"ui" yaml:"ui"`
	Credentials Credentials     `mapstructure:"-" yaml:"-" json:"-"` // Loaded separately
}

// DashboardConfig drives the refresh-cycle coordinator.
type DashboardConfig struct {
	TrackedPairs          []string      `mapstructure:"tracked_pairs" yaml:"tracked_pairs"`
	ValuationCurrency     string        `mapstructure:"valuation_currency" yaml:"valuation_currency"`
	DiscountCurrency      string        `mapstructure:"discount_currency" yaml:"discount_currency"`
	FallbackDiscountPrice float64       `mapstructure:"fallback_discount_price" yaml:"fallback_discount_price"`
	RefreshInterval       time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	FetchConcurrency      int           `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// ExchangeConfig holds exchange connectivity settings.
type ExchangeConfig struct {
	Mode              string        `mapstructure:"mode" yaml:"mode"` // "live", "replay"
	BaseURLs          []string      `mapstructure:"base_urls" yaml:"base_urls"`
	RecvWindow        int64         `mapstructure:"recv_window" yaml:"recv_window"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	ReplayFile        string        `mapstructure:"replay_file" yaml:"replay_file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	AllowOrigin  string        `mapstructure:"allow_origin" yaml:"allow_origin"`
	HistoryLimit int           `mapstructure:"history_limit" yaml:"history_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       bool   `mapstructure:"file" yaml:"file"`
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	OutputPath  string `mapstructure:"output_path" yaml:"output_path"`
}

// UIConfig holds terminal rendering settings.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	TimeFormat   string `mapstructure:"time_format" yaml:"time_format"`
	ShowRounds   bool   `mapstructure:"show_rounds" yaml:"show_rounds"`
}

// Credentials holds API credentials.
type Credentials struct {
	Binance BinanceCredentials `mapstructure:"binance"`
}

// BinanceCredentials holds Binance API credentials.
type BinanceCredentials struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// DefaultTrackedPairs is the pair set used when none is configured.
var DefaultTrackedPairs = []string{
	"BTCUSDT", "TAOUSDT", "XRPUSDT", "BNBUSDT", "SOLUSDT",
	"ICPUSDT", "FILUSDT", "FETUSDT", "ONDOUSDT", "JUPUSDT",
	"ARKMUSDT", "RNDRUSDT", "INJUSDT", "ETHUSDT", "DOTUSDT",
	"AVAXUSDT", "LINKUSDT", "MATICUSDT", "APTUSDT", "NEARUSDT",
}

// DefaultBaseURLs lists the exchange endpoints tried in order.
var DefaultBaseURLs = []string{
	"https://api1.binance.com",
	"https://api4.binance.com",
	"https://api.binance.com",
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/pnl-dashboard"
	}
	return filepath.Join(home, ".config", "pnl-dashboard")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.normalize()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dashboard.tracked_pairs", DefaultTrackedPairs)
	v.SetDefault("dashboard.valuation_currency", "USDT")
	v.SetDefault("dashboard.discount_currency", "BNB")
	v.SetDefault("dashboard.fallback_discount_price", 600.0)
	v.SetDefault("dashboard.refresh_interval", "30s")
	v.SetDefault("dashboard.fetch_concurrency", 8)

	v.SetDefault("exchange.mode", "live")
	v.SetDefault("exchange.base_urls", DefaultBaseURLs)
	v.SetDefault("exchange.recv_window", 5000)
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.requests_per_second", 10.0)

	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.allow_origin", "http://localhost")
	v.SetDefault("server.history_limit", 100)
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "pnl.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 14)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pnl-dashboard")

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.time_format", "15:04:05")
	v.SetDefault("ui.show_rounds", true)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, write a template and continue on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Credentials.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET"); v != "" {
		cfg.Credentials.Binance.APISecret = v
	}
	if v := os.Getenv("PNL_TRACKED_PAIRS"); v != "" {
		cfg.Dashboard.TrackedPairs = strings.Split(v, ",")
	}
	if v := os.Getenv("PNL_EXCHANGE_MODE"); v != "" {
		cfg.Exchange.Mode = v
	}
	if v := os.Getenv("PNL_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
}

// normalize upper-cases and de-duplicates symbols and trims credentials.
func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Dashboard.TrackedPairs))
	pairs := make([]string, 0, len(c.Dashboard.TrackedPairs))
	for _, p := range c.Dashboard.TrackedPairs {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		pairs = append(pairs, p)
	}
	c.Dashboard.TrackedPairs = pairs
	c.Dashboard.ValuationCurrency = strings.ToUpper(strings.TrimSpace(c.Dashboard.ValuationCurrency))
	c.Dashboard.DiscountCurrency = strings.ToUpper(strings.TrimSpace(c.Dashboard.DiscountCurrency))
	c.Credentials.Binance.APIKey = strings.TrimSpace(c.Credentials.Binance.APIKey)
	c.Credentials.Binance.APISecret = strings.TrimSpace(c.Credentials.Binance.APISecret)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Dashboard.TrackedPairs) == 0 {
		return apperrors.NewValidationError("dashboard.tracked_pairs", c.Dashboard.TrackedPairs, "at least one pair is required")
	}
	if c.Dashboard.ValuationCurrency == "" {
		return apperrors.NewValidationError("dashboard.valuation_currency", "", "must not be empty")
	}
	for _, p := range c.Dashboard.TrackedPairs {
		if !strings.HasSuffix(p, c.Dashboard.ValuationCurrency) || p == c.Dashboard.ValuationCurrency {
			return apperrors.NewValidationError("dashboard.tracked_pairs", p,
				fmt.Sprintf("pair must be quoted in %s", c.Dashboard.ValuationCurrency))
		}
	}
	if c.Dashboard.RefreshInterval <= 0 {
		return apperrors.NewValidationError("dashboard.refresh_interval", c.Dashboard.RefreshInterval, "must be positive")
	}
	if c.Dashboard.FetchConcurrency < 1 {
		return apperrors.NewValidationError("dashboard.fetch_concurrency", c.Dashboard.FetchConcurrency, "must be at least 1")
	}
	if c.Dashboard.FallbackDiscountPrice < 0 {
		return apperrors.NewValidationError("dashboard.fallback_discount_price", c.Dashboard.FallbackDiscountPrice, "must be non-negative")
	}

	switch c.Exchange.Mode {
	case "live":
		if len(c.Exchange.BaseURLs) == 0 {
			return apperrors.NewValidationError("exchange.base_urls", c.Exchange.BaseURLs, "at least one base URL is required")
		}
	case "replay":
		if c.Exchange.ReplayFile == "" {
			return apperrors.NewValidationError("exchange.replay_file", "", "required in replay mode")
		}
	default:
		return apperrors.NewValidationError("exchange.mode", c.Exchange.Mode, "must be 'live' or 'replay'")
	}
	if c.Exchange.Timeout <= 0 {
		return apperrors.NewValidationError("exchange.timeout", c.Exchange.Timeout, "must be positive")
	}

	return nil
}

// IsReplayMode returns true if fills are served from a fixture file.
func (c *Config) IsReplayMode() bool {
	return c.Exchange.Mode == "replay"
}

// HasCredentials reports whether signed endpoints can be called.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Binance.APIKey != "" && c.Credentials.Binance.APISecret != ""
}
