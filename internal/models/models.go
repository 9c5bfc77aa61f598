// Package models provides domain models for the P&L dashboard.
package models

import (
	"strings"
	"time"
)

// OrderSide represents the side of a fill or order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// SideFromBuyer resolves the exchange's buyer flag into an explicit side.
func SideFromBuyer(isBuyer bool) OrderSide {
	if isBuyer {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Pair identifies a spot trading pair such as BTCUSDT.
type Pair string

// Base returns the traded asset of the pair given its quote currency.
// BTCUSDT with quote USDT yields BTC.
func (p Pair) Base(quote string) string {
	s := strings.ToUpper(string(p))
	if quote != "" && strings.HasSuffix(s, strings.ToUpper(quote)) && len(s) > len(quote) {
		return s[:len(s)-len(quote)]
	}
	return s
}

// PairOf builds the pair symbol for an asset quoted in the given currency.
func PairOf(asset, quote string) Pair {
	return Pair(strings.ToUpper(asset) + strings.ToUpper(quote))
}

// Ticker24h holds rolling 24-hour statistics for a pair.
type Ticker24h struct {
	PriceChangePercent float64 `json:"priceChangePercent"`
	HighPrice          float64 `json:"highPrice"`
	LowPrice           float64 `json:"lowPrice"`
	Volume             float64 `json:"volume"`
	QuoteVolume        float64 `json:"quoteVolume"`
}

// StartOfUTCDay returns midnight UTC of the day containing t.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
