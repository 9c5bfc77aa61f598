package pnl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pnl-dashboard/internal/models"
)

func TestAggregate(t *testing.T) {
	pairs := []models.PairSummary{
		{Pair: "BTCUSDT", RealizedPnl: 25, UnrealizedPnl: 5, TotalFees: 1, Trades: 3, Fills: 4, Buys: 2, Sells: 1, Volume: 390, Unpriced: true},
		{Pair: "ETHUSDT", RealizedPnl: -10, TotalFees: 1, Trades: 2, Fills: 2, Buys: 1, Sells: 1, Volume: 110},
		{Pair: "SOLUSDT"},
	}

	s := Aggregate(pairs)
	assert.Equal(t, 2, s.ActivePairs)
	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 6, s.TotalFills)
	assert.InDelta(t, 15, s.RealizedPnl, 1e-9)
	assert.InDelta(t, 5, s.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 20, s.TotalPnl, 1e-9)
	assert.InDelta(t, 500, s.TotalVolume, 1e-9)
	assert.InDelta(t, 0.4, s.FeePercent, 1e-9)
	assert.Equal(t, 1, s.UnpricedPairs)

	empty := Aggregate(nil)
	assert.Zero(t, empty.FeePercent)
	assert.Zero(t, empty.UnpricedPairs)
}
