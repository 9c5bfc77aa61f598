package models

import "time"

// PairReport is the per-pair output of one refresh cycle.
type PairReport struct {
	Symbol       Pair         `json:"symbol"`
	Asset        string       `json:"asset"`
	CurrentPrice float64      `json:"currentPrice"`
	Ticker       Ticker24h    `json:"ticker"`
	Trades       []TradeView  `json:"trades"`
	Rounds       []MatchRound `json:"rounds"`
	Summary      PairSummary  `json:"pnl"`
}

// Report is the full result of one refresh cycle. Reports are immutable
// once published; Seq orders them so late completions can be discarded.
type Report struct {
	Seq          uint64              `json:"seq"`
	Date         string              `json:"date"`
	DayStart     time.Time           `json:"todayStartUTC"`
	Pairs        []PairReport        `json:"symbols"`
	Summary      PortfolioSummary    `json:"summary"`
	Portfolio    *PortfolioValuation `json:"portfolio,omitempty"`
	AccountError string              `json:"accountError,omitempty"`
	PairErrors   map[string]string   `json:"pairErrors,omitempty"`
	GeneratedAt  time.Time           `json:"lastUpdated"`

	// DiscountPrice is the discount token price fees were valued with;
	// DiscountFallback is set when it is the configured constant.
	DiscountPrice    float64 `json:"discountPrice"`
	DiscountFallback bool    `json:"discountPriceFallback,omitempty"`
}

// CycleRecord is the journaled summary of one published report.
type CycleRecord struct {
	Seq         uint64           `json:"seq"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Summary     PortfolioSummary `json:"summary"`
	Pairs       []PairSummary    `json:"pairs,omitempty"`
}
