package models

import "time"

// RoundType distinguishes realized matches from open positions.
type RoundType string

const (
	RoundClosed RoundType = "closed"
	RoundOpen   RoundType = "open"
)

// MatchRound is one output record of FIFO matching. Closed rounds pair a
// sell with a buy lot; open rounds describe unsold lot quantity marked to
// the current price.
type MatchRound struct {
	Type          RoundType     `json:"type"`
	BuyPrice      float64       `json:"buyPrice"`
	SellPrice     float64       `json:"sellPrice,omitempty"`
	CurrentPrice  float64       `json:"currentPrice,omitempty"`
	Qty           float64       `json:"qty"`
	GrossPnl      float64       `json:"grossPnl"`
	BuyFee        float64       `json:"buyFee"`
	SellFee       float64       `json:"sellFee"`
	TotalFee      float64       `json:"totalFee"`
	FeePercent    float64       `json:"feePercent"`
	NetPnl        float64       `json:"netPnl"`
	PnlPercent    float64       `json:"pnlPercent"`
	NetPnlPercent float64       `json:"netPnlPercent"`
	BuyTime       time.Time     `json:"buyTime"`
	SellTime      *time.Time    `json:"sellTime,omitempty"`
	HoldTime      time.Duration `json:"-"`
	HoldTimeMs    int64         `json:"holdTimeMs"`
	BuyOrderID    int64         `json:"buyOrderId"`
	SellOrderID   int64         `json:"sellOrderId,omitempty"`

	// Unpriced marks an open round valued without a mark price; its
	// unrealized P&L assumes a price of 0.
	Unpriced bool `json:"unpriced,omitempty"`
}

// PairSummary aggregates the rounds of one trading pair.
type PairSummary struct {
	Pair          Pair    `json:"symbol"`
	RealizedPnl   float64 `json:"totalRealizedPnl"`
	UnrealizedPnl float64 `json:"totalUnrealizedPnl"`
	TotalPnl      float64 `json:"totalPnl"`
	TotalFees     float64 `json:"totalFees"`
	Buys          int     `json:"totalBuys"`
	Sells         int     `json:"totalSells"`
	Trades        int     `json:"totalTrades"`
	Fills         int     `json:"totalFills"`
	Volume        float64 `json:"volume"`
	UnmatchedQty  float64 `json:"unmatchedQty,omitempty"`
	Unpriced      bool    `json:"unpriced,omitempty"`
}

// PortfolioSummary sums pair summaries for one refresh cycle.
type PortfolioSummary struct {
	ActivePairs   int     `json:"activePairs"`
	TotalTrades   int     `json:"totalTrades"`
	TotalFills    int     `json:"totalFills"`
	Buys          int     `json:"totalBuys"`
	Sells         int     `json:"totalSells"`
	TotalVolume   float64 `json:"totalVolume"`
	RealizedPnl   float64 `json:"realizedPnl"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	TotalPnl      float64 `json:"totalPnl"`
	TotalFees     float64 `json:"totalFees"`
	FeePercent    float64 `json:"feePercent"`
	UnpricedPairs int     `json:"unpricedPairs,omitempty"`
}
