package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# P&L Dashboard Configuration

[dashboard]
# Pairs polled every refresh cycle
tracked_pairs = ["BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"]
# Currency every P&L and fee figure is expressed in
valuation_currency = "USDT"
# Exchange token whose fees are valued at its own live price
discount_currency = "BNB"
# Discount token price used when the live price cannot be fetched
fallback_discount_price = 600.0
# Time between refresh cycles
refresh_interval = "30s"
# Maximum concurrent per-pair requests
fetch_concurrency = 8

[exchange]
# "live" polls the exchange, "replay" serves a JSON fixture
mode = "live"
# Endpoints tried in order until one answers
base_urls = ["https://api1.binance.com", "https://api4.binance.com", "https://api.binance.com"]
recv_window = 5000
timeout = "10s"
requests_per_second = 10.0
replay_file = ""

[server]
listen_addr = "127.0.0.1:8080"
# Browser origin allowed to read the API. Any loopback origin matches a
# loopback value; "*" allows every site.
allow_origin = "http://localhost"
history_limit = 100
write_timeout = "10s"

[logging]
# debug, info, warn, error
level = "info"
file = true

[tracing]
enabled = false
service_name = "pnl-dashboard"
# Empty writes spans to stderr
output_path = ""

[ui]
color_enabled = true
time_format = "15:04:05"
show_rounds = true
`

const credentialsTemplate = `# P&L Dashboard Credentials
# WARNING: Keep this file secure! Do not commit to version control.
# BINANCE_API_KEY and BINANCE_SECRET in the environment take precedence.
# A read-only API key is sufficient.

[binance]
api_key = ""
api_secret = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
