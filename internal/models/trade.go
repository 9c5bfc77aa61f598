package models

import "time"

// RawFill is one execution record as returned by the exchange, with
// numeric fields still in their textual form.
type RawFill struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"` // ms since epoch
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// Fill is a normalized execution. Immutable once built.
type Fill struct {
	ID       int64
	OrderID  int64
	Side     OrderSide
	Price    float64
	Qty      float64
	Notional float64 // quote quantity as reported, not recomputed
	Fee      float64
	FeeAsset string
	IsMaker  bool
	Time     time.Time
}

// MergedOrder collapses consecutive fills sharing order id, side and price.
type MergedOrder struct {
	OrderID   int64              `json:"orderId"`
	Side      OrderSide          `json:"side"`
	Price     float64            `json:"price"`
	Qty       float64            `json:"qty"`
	Notional  float64            `json:"quoteQty"`
	Fee       float64            `json:"commission"`
	FeeAsset  string             `json:"commissionAsset"`
	OtherFees map[string]float64 `json:"otherCommissions,omitempty"`
	IsMaker   bool               `json:"isMaker"`
	Time      time.Time          `json:"time"`
	FillCount int                `json:"fillCount"`
}

// TradeView is a merged order enriched for presentation.
type TradeView struct {
	MergedOrder
	FeeValue    float64 `json:"feeValue"`
	FeePercent  float64 `json:"feePercent"`
	RealizedPnl float64 `json:"realizedPnl"`
	// UnmatchedQty is sell quantity that found no open lot.
	UnmatchedQty float64 `json:"unmatchedQty,omitempty"`
}
