package pnl

import "pnl-dashboard/internal/models"

// Aggregate sums pair summaries into the portfolio-wide daily summary.
// A pair without trades contributes zero to every field.
func Aggregate(pairs []models.PairSummary) models.PortfolioSummary {
	var s models.PortfolioSummary
	for _, p := range pairs {
		if p.Trades > 0 {
			s.ActivePairs++
		}
		s.TotalTrades += p.Trades
		s.TotalFills += p.Fills
		s.Buys += p.Buys
		s.Sells += p.Sells
		s.TotalVolume += p.Volume
		s.RealizedPnl += p.RealizedPnl
		s.UnrealizedPnl += p.UnrealizedPnl
		s.TotalFees += p.TotalFees
		if p.Unpriced {
			s.UnpricedPairs++
		}
	}
	s.TotalPnl = s.RealizedPnl + s.UnrealizedPnl
	s.FeePercent = percent(s.TotalFees, s.TotalVolume)
	return s
}
