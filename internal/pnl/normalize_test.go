package pnl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pnl-dashboard/internal/models"
)

func TestNormalize(t *testing.T) {
	raw := models.RawFill{
		ID: 7, OrderID: 42, Price: "50000.10", Qty: "0.00100000", QuoteQty: "50.0001",
		Commission: "0.00000075", CommissionAsset: "bnb", Time: 1700000000000, IsBuyer: true,
	}

	f, degraded := Normalize(raw)
	assert.Empty(t, degraded)
	assert.Equal(t, models.OrderSideBuy, f.Side)
	assert.InDelta(t, 50000.10, f.Price, 1e-9)
	assert.InDelta(t, 0.001, f.Qty, 1e-12)
	assert.Equal(t, "BNB", f.FeeAsset)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), f.Time)

	raw.Price, raw.Commission, raw.IsBuyer = "n/a", "-1", false
	f, degraded = Normalize(raw)
	assert.ElementsMatch(t, []string{"price", "commission"}, degraded)
	assert.Zero(t, f.Price)
	assert.Zero(t, f.Fee)
	assert.Equal(t, models.OrderSideSell, f.Side)
}
