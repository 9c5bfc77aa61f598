package models

import "time"

// Balance is one asset line of the exchange account.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total returns free plus locked quantity.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// Account is the authenticated account snapshot.
type Account struct {
	Balances  []Balance `json:"balances"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Holding is a valued non-zero balance.
type Holding struct {
	Asset   string  `json:"asset"`
	Balance float64 `json:"balance"`
	Price   float64 `json:"price"`
	Value   float64 `json:"value"`
}

// PortfolioValuation values every non-zero balance in the valuation currency.
type PortfolioValuation struct {
	Holdings   []Holding          `json:"holdings"`
	TotalValue float64            `json:"totalValue"`
	Prices     map[string]float64 `json:"prices"`
	Error      string             `json:"error,omitempty"`
}
