package cli

import (
	"sort"
	"strconv"
	"time"

	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/pkg/utils"
)

// renderReport prints a full cycle report: the portfolio summary, one
// table row per active pair, and optionally the rounds of every pair.
func renderReport(o *Output, report *models.Report, ui config.UIConfig) {
	timeFormat := ui.TimeFormat
	if timeFormat == "" {
		timeFormat = time.TimeOnly
	}

	o.Bold("Daily P&L  %s", report.Date)
	o.Dim("cycle #%d  updated %s UTC", report.Seq, report.GeneratedAt.UTC().Format(timeFormat))
	o.Println()

	renderSummary(o, report.Summary)
	o.Println()

	if len(report.Pairs) == 0 {
		o.Dim("No trades today.")
	} else {
		table := NewTable(o, "PAIR", "PRICE", "24H", "ORDERS", "B/S", "REALIZED", "UNREALIZED", "FEES", "TOTAL").
			AlignRight(1, 2, 3, 5, 6, 7, 8)
		for _, p := range report.Pairs {
			s := p.Summary
			table.AddRow(
				string(p.Symbol),
				utils.FormatPrice(p.CurrentPrice),
				o.Signed(p.Ticker.PriceChangePercent, utils.FormatPercent(p.Ticker.PriceChangePercent)),
				strconv.Itoa(s.Trades),
				strconv.Itoa(s.Buys)+"/"+strconv.Itoa(s.Sells),
				o.Signed(s.RealizedPnl, utils.FormatPnL(s.RealizedPnl)),
				o.Signed(s.UnrealizedPnl, utils.FormatPnL(s.UnrealizedPnl)),
				utils.FormatUSD(s.TotalFees),
				o.Signed(s.TotalPnl, utils.FormatPnL(s.TotalPnl)),
			)
		}
		table.Render()
	}

	for _, p := range report.Pairs {
		if p.Summary.UnmatchedQty > 0 {
			o.Warning("%s: %s sold without a matching buy today", p.Symbol, utils.FormatQty(p.Summary.UnmatchedQty))
		}
		if p.Summary.Unpriced {
			o.Warning("%s: no current price, open lots are marked at 0", p.Symbol)
		}
	}
	if report.DiscountFallback {
		o.Warning("discount token price unavailable, fees valued at %s", utils.FormatPrice(report.DiscountPrice))
	}

	if ui.ShowRounds {
		for _, p := range report.Pairs {
			renderRounds(o, p)
		}
	}

	renderErrors(o, report)
}

func renderSummary(o *Output, s models.PortfolioSummary) {
	o.Printf("  Total P&L    %s\n", o.Signed(s.TotalPnl, utils.FormatPnL(s.TotalPnl)))
	o.Printf("  Realized     %s\n", o.Signed(s.RealizedPnl, utils.FormatPnL(s.RealizedPnl)))
	o.Printf("  Unrealized   %s\n", o.Signed(s.UnrealizedPnl, utils.FormatPnL(s.UnrealizedPnl)))
	o.Printf("  Fees         %s (%s of volume)\n", utils.FormatUSD(s.TotalFees), utils.FormatPercent(s.FeePercent))
	o.Printf("  Volume       %s across %d pairs, %d orders (%d buys, %d sells)\n",
		utils.FormatUSD(s.TotalVolume), s.ActivePairs, s.TotalTrades, s.Buys, s.Sells)
}

func renderRounds(o *Output, p models.PairReport) {
	if len(p.Rounds) == 0 {
		return
	}
	o.Println()
	o.Bold("%s rounds", p.Symbol)

	table := NewTable(o, "TYPE", "QTY", "BUY", "SELL/MARK", "FEES", "NET", "NET %", "HELD").
		AlignRight(1, 2, 3, 4, 5, 6, 7)
	for _, r := range p.Rounds {
		exit := r.SellPrice
		kind := "closed"
		if r.Type == models.RoundOpen {
			exit = r.CurrentPrice
			kind = o.Yellow("open")
		}
		table.AddRow(
			kind,
			utils.FormatQty(r.Qty),
			utils.FormatPrice(r.BuyPrice),
			utils.FormatPrice(exit),
			utils.FormatUSD(r.TotalFee),
			o.Signed(r.NetPnl, utils.FormatPnL(r.NetPnl)),
			o.Signed(r.NetPnlPercent, utils.FormatPercent(r.NetPnlPercent)),
			utils.FormatDuration(r.HoldTime),
		)
	}
	table.Render()
}

func renderErrors(o *Output, report *models.Report) {
	if len(report.PairErrors) == 0 && report.AccountError == "" {
		return
	}
	o.Println()
	pairs := make([]string, 0, len(report.PairErrors))
	for pair := range report.PairErrors {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	for _, pair := range pairs {
		o.Error("%s: %s", pair, report.PairErrors[pair])
	}
	if report.AccountError != "" {
		o.Error("account: %s", report.AccountError)
	}
}

// renderPortfolio prints every valued holding, largest first.
func renderPortfolio(o *Output, pv *models.PortfolioValuation, valuation string) {
	if pv == nil {
		o.Dim("Portfolio unavailable.")
		return
	}
	if pv.Error != "" {
		o.Error("Portfolio unavailable: %s", pv.Error)
		return
	}

	o.Bold("Portfolio  %s", utils.FormatUSD(pv.TotalValue))
	if len(pv.Holdings) == 0 {
		o.Dim("No balances.")
		return
	}

	table := NewTable(o, "ASSET", "BALANCE", "PRICE ("+valuation+")", "VALUE", "SHARE").AlignRight(1, 2, 3, 4)
	for _, h := range pv.Holdings {
		share := 0.0
		if pv.TotalValue > 0 {
			share = h.Value / pv.TotalValue * 100
		}
		price := utils.FormatPrice(h.Price)
		if h.Price == 0 {
			price = o.DimText("n/a")
		}
		table.AddRow(
			h.Asset,
			utils.FormatQty(h.Balance),
			price,
			utils.FormatUSD(h.Value),
			strconv.FormatFloat(share, 'f', 1, 64)+"%",
		)
	}
	table.Render()
}
