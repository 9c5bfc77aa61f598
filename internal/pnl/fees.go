package pnl

import (
	"strings"

	"pnl-dashboard/internal/models"
)

// FeeValuer expresses a fee charged in an arbitrary asset in the common
// valuation currency. assetPrice is the traded asset's reference price.
type FeeValuer interface {
	Value(amount float64, asset string, assetPrice float64) float64
}

// FeeValuerFunc adapts a function to FeeValuer.
type FeeValuerFunc func(amount float64, asset string, assetPrice float64) float64

// Value implements FeeValuer.
func (f FeeValuerFunc) Value(amount float64, asset string, assetPrice float64) float64 {
	return f(amount, asset, assetPrice)
}

// FeeConverter values fees against a single price snapshot. DiscountPrice
// must be fetched once per refresh cycle by the caller.
type FeeConverter struct {
	Valuation     string
	Discount      string
	DiscountPrice float64
}

// Value implements FeeValuer.
//
// Fees not in the valuation or discount currency are assumed to be in the
// traded asset, which holds for spot fee-in-base conventions only.
func (c FeeConverter) Value(amount float64, asset string, assetPrice float64) float64 {
	switch {
	case strings.EqualFold(asset, c.Valuation):
		return amount
	case c.Discount != "" && strings.EqualFold(asset, c.Discount):
		return amount * c.DiscountPrice
	default:
		return amount * assetPrice
	}
}

// orderFeeValue values all fee components of a merged order.
func orderFeeValue(fees FeeValuer, o models.MergedOrder, assetPrice float64) float64 {
	v := fees.Value(o.Fee, o.FeeAsset, assetPrice)
	for asset, amount := range o.OtherFees {
		v += fees.Value(amount, asset, assetPrice)
	}
	return v
}
