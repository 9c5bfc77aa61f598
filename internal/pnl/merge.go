package pnl

import (
	"sort"

	"pnl-dashboard/internal/models"
)

// Merge collapses partial fills into order-level records. Fills are sorted
// by time (ties by fill id) and consecutive fills sharing order id, side and
// price are summed. Fills of one order at different price levels stay
// separate. The input slice is not modified.
func Merge(fills []models.Fill) []models.MergedOrder {
	if len(fills) == 0 {
		return nil
	}

	sorted := make([]models.Fill, len(fills))
	copy(sorted, fills)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}
		return sorted[i].ID < sorted[j].ID
	})

	merged := make([]models.MergedOrder, 0, len(sorted))
	var cur *models.MergedOrder
	for _, f := range sorted {
		if cur != nil && cur.OrderID == f.OrderID && cur.Side == f.Side && cur.Price == f.Price {
			cur.Qty += f.Qty
			cur.Notional += f.Notional
			addFee(cur, f.Fee, f.FeeAsset)
			cur.FillCount++
			continue
		}
		if cur != nil {
			merged = append(merged, *cur)
		}
		cur = &models.MergedOrder{
			OrderID:   f.OrderID,
			Side:      f.Side,
			Price:     f.Price,
			Qty:       f.Qty,
			Notional:  f.Notional,
			Fee:       f.Fee,
			FeeAsset:  f.FeeAsset,
			IsMaker:   f.IsMaker,
			Time:      f.Time,
			FillCount: 1,
		}
	}
	merged = append(merged, *cur)
	return merged
}

// addFee accumulates a fee onto the order. Fees charged in a currency other
// than the order's own are kept apart so incompatible units are never summed.
func addFee(o *models.MergedOrder, amount float64, asset string) {
	if asset == o.FeeAsset {
		o.Fee += amount
		return
	}
	if amount == 0 {
		return
	}
	if o.OtherFees == nil {
		o.OtherFees = make(map[string]float64)
	}
	o.OtherFees[asset] += amount
}
