// Package broker provides the market data and account provider the
// dashboard polls each refresh cycle.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/models"
)

// Provider defines the read-only exchange operations the dashboard needs.
type Provider interface {
	// Account
	GetAccount(ctx context.Context) (*models.Account, error)

	// Trade history
	GetFills(ctx context.Context, pair models.Pair, since time.Time) ([]models.RawFill, error)

	// Market data
	GetPrice(ctx context.Context, pair models.Pair) (float64, error)
	GetPrices(ctx context.Context, pairs []models.Pair) (map[models.Pair]float64, error)
	GetTicker24h(ctx context.Context, pair models.Pair) (*models.Ticker24h, error)
}

// New builds the provider selected by the exchange mode.
func New(cfg *config.Config, logger zerolog.Logger) (Provider, error) {
	switch cfg.Exchange.Mode {
	case "replay":
		return NewReplayProviderFromFile(cfg.Exchange.ReplayFile)
	case "live":
		return NewBinanceClient(BinanceConfig{
			APIKey:            cfg.Credentials.Binance.APIKey,
			APISecret:         cfg.Credentials.Binance.APISecret,
			BaseURLs:          cfg.Exchange.BaseURLs,
			RecvWindow:        cfg.Exchange.RecvWindow,
			Timeout:           cfg.Exchange.Timeout,
			RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
			Logger:            logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown exchange mode: %s", cfg.Exchange.Mode)
	}
}
