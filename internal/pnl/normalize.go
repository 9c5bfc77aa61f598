// Package pnl reconciles exchange fills into merged orders and computes
// FIFO realized and unrealized profit and loss per trading pair.
package pnl

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pnl-dashboard/internal/models"
)

// Normalize converts a raw fill into its numeric form. Fields that fail to
// parse, or parse negative, are set to zero and their names returned.
func Normalize(raw models.RawFill) (models.Fill, []string) {
	var degraded []string
	parse := func(field, s string) float64 {
		v, ok := parseAmount(s)
		if !ok {
			degraded = append(degraded, field)
		}
		return v
	}

	f := models.Fill{
		ID:       raw.ID,
		OrderID:  raw.OrderID,
		Side:     models.SideFromBuyer(raw.IsBuyer),
		Price:    parse("price", raw.Price),
		Qty:      parse("qty", raw.Qty),
		Notional: parse("quoteQty", raw.QuoteQty),
		Fee:      parse("commission", raw.Commission),
		FeeAsset: strings.ToUpper(strings.TrimSpace(raw.CommissionAsset)),
		IsMaker:  raw.IsMaker,
		Time:     time.UnixMilli(raw.Time).UTC(),
	}
	return f, degraded
}

// NormalizeAll normalizes a batch and returns how many fields degraded.
func NormalizeAll(raws []models.RawFill) ([]models.Fill, int) {
	fills := make([]models.Fill, 0, len(raws))
	degraded := 0
	for _, raw := range raws {
		f, bad := Normalize(raw)
		degraded += len(bad)
		fills = append(fills, f)
	}
	return fills, degraded
}

func parseAmount(s string) (float64, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.InexactFloat64(), true
}
