package pnl

import (
	"math"
	"time"

	"pnl-dashboard/internal/models"
)

// DefaultEpsilon is the quantity at or below which a lot counts as consumed.
const DefaultEpsilon = 1e-6

// Engine performs FIFO lot matching for one pair at a time. It holds no
// per-pair state, so a single Engine may serve concurrent callers.
type Engine struct {
	epsilon float64
	now     func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEpsilon overrides the quantity tolerance.
func WithEpsilon(eps float64) EngineOption {
	return func(e *Engine) {
		if eps > 0 {
			e.epsilon = eps
		}
	}
}

// WithClock sets the clock used for open-round hold times.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a matching engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		epsilon: DefaultEpsilon,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PairResult is the complete matching output for one pair.
type PairResult struct {
	Summary models.PairSummary
	Trades  []models.TradeView
	Rounds  []models.MatchRound
}

// openLot is the unconsumed part of a buy order during one matching pass.
type openLot struct {
	orderID   int64
	qty       float64
	remaining float64
	price     float64
	feeValue  float64
	time      time.Time
}

// Reconcile merges raw fills and matches the resulting orders.
func (e *Engine) Reconcile(pair models.Pair, fills []models.Fill, markPrice float64, fees FeeValuer) *PairResult {
	return e.Match(pair, Merge(fills), markPrice, fees)
}

// Match walks time-ordered merged orders, pairing sell quantity with the
// oldest open buy quantity. Sell quantity beyond all known lots is dropped
// from P&L and reported as UnmatchedQty on the trade and pair summary.
func (e *Engine) Match(pair models.Pair, orders []models.MergedOrder, markPrice float64, fees FeeValuer) *PairResult {
	res := &PairResult{
		Summary: models.PairSummary{Pair: pair},
		Trades:  make([]models.TradeView, 0, len(orders)),
	}
	sum := &res.Summary

	var queue []*openLot
	for _, o := range orders {
		feeValue := orderFeeValue(fees, o, referencePrice(markPrice, o.Price))
		tv := models.TradeView{
			MergedOrder: o,
			FeeValue:    feeValue,
			FeePercent:  percent(feeValue, o.Notional),
		}
		sum.Trades++
		sum.Fills += o.FillCount
		sum.Volume += o.Notional

		switch o.Side {
		case models.OrderSideBuy:
			sum.Buys++
			if o.Qty > e.epsilon {
				queue = append(queue, &openLot{
					orderID:   o.OrderID,
					qty:       o.Qty,
					remaining: o.Qty,
					price:     o.Price,
					feeValue:  feeValue,
					time:      o.Time,
				})
			}

		case models.OrderSideSell:
			sum.Sells++
			remaining := o.Qty
			for remaining > e.epsilon && len(queue) > 0 {
				head := queue[0]
				qty := math.Min(remaining, head.remaining)

				round := closedRound(head, o, qty, feeValue)
				res.Rounds = append(res.Rounds, round)
				sum.RealizedPnl += round.NetPnl
				sum.TotalFees += round.TotalFee
				tv.RealizedPnl += round.NetPnl

				head.remaining -= qty
				remaining -= qty
				if head.remaining <= e.epsilon {
					queue = queue[1:]
				}
			}
			if remaining > e.epsilon {
				tv.UnmatchedQty = remaining
				sum.UnmatchedQty += remaining
			}
		}
		res.Trades = append(res.Trades, tv)
	}

	now := e.now()
	for _, lot := range queue {
		if lot.remaining <= e.epsilon {
			continue
		}
		round := openRound(lot, markPrice, now)
		res.Rounds = append(res.Rounds, round)
		sum.UnrealizedPnl += round.NetPnl
		sum.TotalFees += round.TotalFee
		if round.Unpriced {
			sum.Unpriced = true
		}
	}

	sum.TotalPnl = sum.RealizedPnl + sum.UnrealizedPnl
	return res
}

func closedRound(lot *openLot, sell models.MergedOrder, qty, sellFeeValue float64) models.MatchRound {
	cost := lot.price * qty
	gross := (sell.Price - lot.price) * qty
	buyFee := lot.feeValue * ratio(qty, lot.qty)
	sellFee := sellFeeValue * ratio(qty, sell.Qty)
	totalFee := buyFee + sellFee
	net := gross - totalFee
	sellTime := sell.Time
	hold := sell.Time.Sub(lot.time)

	return models.MatchRound{
		Type:          models.RoundClosed,
		BuyPrice:      lot.price,
		SellPrice:     sell.Price,
		Qty:           qty,
		GrossPnl:      gross,
		BuyFee:        buyFee,
		SellFee:       sellFee,
		TotalFee:      totalFee,
		FeePercent:    percent(totalFee, cost),
		NetPnl:        net,
		PnlPercent:    percent(gross, cost),
		NetPnlPercent: percent(net, cost),
		BuyTime:       lot.time,
		SellTime:      &sellTime,
		HoldTime:      hold,
		HoldTimeMs:    hold.Milliseconds(),
		BuyOrderID:    lot.orderID,
		SellOrderID:   sell.OrderID,
	}
}

func openRound(lot *openLot, markPrice float64, now time.Time) models.MatchRound {
	qty := lot.remaining
	cost := lot.price * qty
	gross := (markPrice - lot.price) * qty
	fee := lot.feeValue * ratio(qty, lot.qty)
	net := gross - fee
	hold := now.Sub(lot.time)

	return models.MatchRound{
		Type:          models.RoundOpen,
		BuyPrice:      lot.price,
		CurrentPrice:  markPrice,
		Qty:           qty,
		GrossPnl:      gross,
		BuyFee:        fee,
		TotalFee:      fee,
		FeePercent:    percent(fee, cost),
		NetPnl:        net,
		PnlPercent:    percent(gross, cost),
		NetPnlPercent: percent(net, cost),
		BuyTime:       lot.time,
		HoldTime:      hold,
		HoldTimeMs:    hold.Milliseconds(),
		BuyOrderID:    lot.orderID,
		Unpriced:      markPrice <= 0,
	}
}

// referencePrice prefers the live mark and falls back to the execution
// price when the mark is unavailable.
func referencePrice(mark, execution float64) float64 {
	if mark > 0 {
		return mark
	}
	return execution
}

// ratio returns num/den, or 0 when the result is not finite.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// percent returns num/den*100, or 0 when the result is not finite.
func percent(num, den float64) float64 {
	return ratio(num, den) * 100
}
