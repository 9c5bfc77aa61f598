// Package dashboard runs the refresh cycle: fetch everything the core
// needs from the provider, reconcile it into a report, then publish.
package dashboard

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"pnl-dashboard/internal/broker"
	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/logging"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/internal/pnl"
	"pnl-dashboard/internal/security"
	"pnl-dashboard/internal/store"
	"pnl-dashboard/internal/stream"
	"pnl-dashboard/internal/tracing"
)

// Options drives what a cycle fetches and how fees are valued.
type Options struct {
	Pairs                 []models.Pair
	Valuation             string
	Discount              string
	FallbackDiscountPrice float64
	Concurrency           int
	Interval              time.Duration
	HistoryLimit          int
}

// OptionsFromConfig builds coordinator options from the loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	pairs := make([]models.Pair, 0, len(cfg.Dashboard.TrackedPairs))
	for _, p := range cfg.Dashboard.TrackedPairs {
		pairs = append(pairs, models.Pair(p))
	}
	return Options{
		Pairs:                 pairs,
		Valuation:             cfg.Dashboard.ValuationCurrency,
		Discount:              cfg.Dashboard.DiscountCurrency,
		FallbackDiscountPrice: cfg.Dashboard.FallbackDiscountPrice,
		Concurrency:           cfg.Dashboard.FetchConcurrency,
		Interval:              cfg.Dashboard.RefreshInterval,
		HistoryLimit:          cfg.Server.HistoryLimit,
	}
}

// Coordinator owns the refresh cycle.
type Coordinator struct {
	provider broker.Provider
	engine   *pnl.Engine
	hub      *stream.Hub
	journal  store.Journal
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
	seq      uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithHub publishes every report to hub.
func WithHub(hub *stream.Hub) Option {
	return func(c *Coordinator) { c.hub = hub }
}

// WithJournal records every published report in j.
func WithJournal(j store.Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithClock sets the clock used for the day window and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator polling provider.
func NewCoordinator(provider broker.Provider, opts Options, logger zerolog.Logger, options ...Option) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	opts.Valuation = strings.ToUpper(opts.Valuation)
	opts.Discount = strings.ToUpper(opts.Discount)

	c := &Coordinator{
		provider: provider,
		opts:     opts,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		now:      time.Now,
	}
	for _, o := range options {
		o(c)
	}
	if c.engine == nil {
		c.engine = pnl.NewEngine(pnl.WithClock(c.now))
	}
	return c
}

// PairData is what one cycle fetched for one pair.
type PairData struct {
	Pair     models.Pair
	Fills    []models.Fill
	Degraded int
	Price    float64
	Ticker   models.Ticker24h
	Errors   []string
}

// Snapshot is the immutable output of the fetch phase.
type Snapshot struct {
	Seq              uint64
	StartedAt        time.Time
	DayStart         time.Time
	Pairs            []PairData
	DiscountPrice    float64
	DiscountFallback bool
	Account          *models.Account
	AccountErr       error
	HoldingPrices    map[string]float64
}

// Collect fetches fills for every tracked pair concurrently, then prices
// and tickers for the pairs that traded today alongside the discount-token
// price and the account. No failure aborts the cycle; each is recorded on
// the snapshot.
func (c *Coordinator) Collect(ctx context.Context, seq uint64) *Snapshot {
	started := c.now()
	snap := &Snapshot{
		Seq:       seq,
		StartedAt: started,
		DayStart:  models.StartOfUTCDay(started),
		Pairs:     make([]PairData, len(c.opts.Pairs)),
	}

	var fills errgroup.Group
	fills.SetLimit(c.opts.Concurrency)
	for i, pair := range c.opts.Pairs {
		i, pair := i, pair
		snap.Pairs[i].Pair = pair
		fills.Go(func() error {
			c.collectFills(ctx, &snap.Pairs[i], snap.DayStart)
			return nil
		})
	}
	_ = fills.Wait()

	var market errgroup.Group
	market.SetLimit(c.opts.Concurrency)
	for i := range snap.Pairs {
		pd := &snap.Pairs[i]
		if len(pd.Fills) == 0 {
			continue
		}
		market.Go(func() error {
			c.collectMarket(ctx, pd)
			return nil
		})
	}
	market.Go(func() error {
		snap.DiscountPrice, snap.DiscountFallback = c.discountPrice(ctx)
		return nil
	})
	market.Go(func() error {
		snap.Account, snap.HoldingPrices, snap.AccountErr = c.collectAccount(ctx)
		return nil
	})
	_ = market.Wait()

	return snap
}

func (c *Coordinator) collectFills(ctx context.Context, pd *PairData, since time.Time) {
	raws, err := c.provider.GetFills(ctx, pd.Pair, since)
	if err != nil {
		pd.Errors = append(pd.Errors, "fills: "+errText(err))
		logger := logging.WithPair(c.logger, string(pd.Pair))
		logger.Warn().Err(err).Msg("fill fetch failed, treating pair as inactive")
		return
	}
	pd.Fills, pd.Degraded = pnl.NormalizeAll(raws)
}

func (c *Coordinator) collectMarket(ctx context.Context, pd *PairData) {
	var wg sync.WaitGroup
	var priceErr, tickerErr error
	var ticker *models.Ticker24h

	wg.Add(2)
	go func() {
		defer wg.Done()
		pd.Price, priceErr = c.provider.GetPrice(ctx, pd.Pair)
	}()
	go func() {
		defer wg.Done()
		ticker, tickerErr = c.provider.GetTicker24h(ctx, pd.Pair)
	}()
	wg.Wait()

	if priceErr != nil {
		pd.Price = 0
		pd.Errors = append(pd.Errors, "price: "+errText(priceErr))
	}
	if tickerErr != nil {
		pd.Errors = append(pd.Errors, "ticker: "+errText(tickerErr))
	} else if ticker != nil {
		pd.Ticker = *ticker
	}
}

// discountPrice returns the discount token's price, or the configured
// fallback when it cannot be fetched.
func (c *Coordinator) discountPrice(ctx context.Context) (float64, bool) {
	if c.opts.Discount == "" || c.opts.Discount == c.opts.Valuation {
		return 1, false
	}
	price, err := c.provider.GetPrice(ctx, models.PairOf(c.opts.Discount, c.opts.Valuation))
	if err != nil || price <= 0 {
		c.logger.Warn().Err(err).
			Float64("fallback", c.opts.FallbackDiscountPrice).
			Msg("discount token price unavailable, using fallback")
		return c.opts.FallbackDiscountPrice, true
	}
	return price, false
}

func (c *Coordinator) collectAccount(ctx context.Context) (*models.Account, map[string]float64, error) {
	account, err := c.provider.GetAccount(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("account fetch failed")
		return nil, nil, err
	}

	var pairs []models.Pair
	for _, b := range account.Balances {
		if b.Total() > 0 && b.Asset != c.opts.Valuation {
			pairs = append(pairs, models.PairOf(b.Asset, c.opts.Valuation))
		}
	}

	prices := make(map[string]float64, len(pairs))
	if len(pairs) == 0 {
		return account, prices, nil
	}

	byPair, err := c.provider.GetPrices(ctx, pairs)
	if err != nil {
		c.logger.Warn().Err(err).Msg("holding prices unavailable")
		return account, prices, nil
	}
	for pair, price := range byPair {
		prices[pair.Base(c.opts.Valuation)] = price
	}
	return account, prices, nil
}

// Compute reconciles a snapshot into a report. It performs no I/O.
func (c *Coordinator) Compute(snap *Snapshot) *models.Report {
	fees := pnl.FeeConverter{
		Valuation:     c.opts.Valuation,
		Discount:      c.opts.Discount,
		DiscountPrice: snap.DiscountPrice,
	}

	report := &models.Report{
		Seq:         snap.Seq,
		Date:        snap.DayStart.Format("2006-01-02"),
		DayStart:    snap.DayStart,
		Pairs:       []models.PairReport{},
		GeneratedAt: c.now().UTC(),

		DiscountPrice:    snap.DiscountPrice,
		DiscountFallback: snap.DiscountFallback,
	}

	summaries := make([]models.PairSummary, 0, len(snap.Pairs))
	for _, pd := range snap.Pairs {
		if len(pd.Errors) > 0 {
			if report.PairErrors == nil {
				report.PairErrors = make(map[string]string)
			}
			report.PairErrors[string(pd.Pair)] = strings.Join(pd.Errors, "; ")
		}
		if len(pd.Fills) == 0 {
			continue
		}

		res := c.engine.Reconcile(pd.Pair, pd.Fills, pd.Price, fees)
		summaries = append(summaries, res.Summary)
		report.Pairs = append(report.Pairs, models.PairReport{
			Symbol:       pd.Pair,
			Asset:        pd.Pair.Base(c.opts.Valuation),
			CurrentPrice: pd.Price,
			Ticker:       pd.Ticker,
			Trades:       res.Trades,
			Rounds:       res.Rounds,
			Summary:      res.Summary,
		})
	}
	report.Summary = pnl.Aggregate(summaries)

	if snap.AccountErr != nil {
		report.AccountError = errText(snap.AccountErr)
		report.Portfolio = &models.PortfolioValuation{
			Holdings: []models.Holding{},
			Prices:   map[string]float64{},
			Error:    report.AccountError,
		}
	} else {
		report.Portfolio = ValuePortfolio(snap.Account, snap.HoldingPrices, c.opts.Valuation)
	}

	return report
}

// RunCycle performs one complete refresh cycle and returns its report.
// The report is published and journaled only if no later cycle has
// already been published.
func (c *Coordinator) RunCycle(ctx context.Context) (*models.Report, error) {
	seq := atomic.AddUint64(&c.seq, 1)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "refresh_cycle", attribute.Int64("cycle.seq", int64(seq)))
	logger := tracing.Logger(ctx, logging.WithCycle(c.logger, seq))

	snap := c.collectTraced(ctx, seq)
	if err := ctx.Err(); err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	_, computeSpan := tracing.StartSpan(ctx, "compute")
	report := c.Compute(snap)
	tracing.EndSpan(computeSpan, nil)

	degraded := 0
	for _, pd := range snap.Pairs {
		degraded += pd.Degraded
	}
	if degraded > 0 {
		logger.Warn().Int("fields", degraded).Msg("unparseable fill fields substituted with zero")
	}
	for _, p := range report.Pairs {
		if p.Summary.UnmatchedQty > 0 {
			logging.LogAnomaly(logger, string(p.Symbol), p.Summary.UnmatchedQty)
		}
	}

	published := true
	if c.hub != nil {
		published = c.hub.Publish(report)
	}
	if published && c.journal != nil {
		if err := store.RecordAndPrune(ctx, c.journal, report, c.opts.HistoryLimit); err != nil {
			logger.Warn().Err(err).Msg("failed to journal cycle")
		}
	}

	span.SetAttributes(
		attribute.Int("cycle.active_pairs", report.Summary.ActivePairs),
		attribute.Int("cycle.failed_pairs", len(report.PairErrors)),
		attribute.Bool("cycle.published", published),
	)
	tracing.EndSpan(span, nil)

	logging.LogCycle(logger, seq, report.Summary.ActivePairs, len(report.PairErrors), report.Summary.TotalPnl, time.Since(start))
	return report, nil
}

func (c *Coordinator) collectTraced(ctx context.Context, seq uint64) *Snapshot {
	ctx, span := tracing.StartSpan(ctx, "collect", attribute.Int("pairs", len(c.opts.Pairs)))
	defer span.End()
	return c.Collect(ctx, seq)
}

// Run starts a cycle immediately and then every interval until ctx is
// done. A slow cycle does not delay the next one.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	var wg sync.WaitGroup
	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.RunCycle(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("refresh cycle failed")
			}
		}()
	}

	c.logger.Info().
		Dur("interval", interval).
		Int("pairs", len(c.opts.Pairs)).
		Msg("refresh loop started")

	launch()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.logger.Info().Msg("refresh loop stopped")
			return nil
		case <-ticker.C:
			launch()
		}
	}
}

// ValuePortfolio values every balance with a non-zero total. The valuation
// currency is priced at 1; assets without a price are valued at 0.
func ValuePortfolio(account *models.Account, prices map[string]float64, valuation string) *models.PortfolioValuation {
	pv := &models.PortfolioValuation{
		Holdings: []models.Holding{},
		Prices:   make(map[string]float64, len(prices)),
	}
	for asset, price := range prices {
		pv.Prices[asset] = price
	}
	if account == nil {
		return pv
	}

	for _, b := range account.Balances {
		total := b.Total()
		if total <= 0 {
			continue
		}
		price := prices[b.Asset]
		if strings.EqualFold(b.Asset, valuation) {
			price = 1
		}
		h := models.Holding{
			Asset:   b.Asset,
			Balance: total,
			Price:   price,
			Value:   total * price,
		}
		pv.Holdings = append(pv.Holdings, h)
		pv.TotalValue += h.Value
	}

	sort.SliceStable(pv.Holdings, func(i, j int) bool {
		return pv.Holdings[i].Value > pv.Holdings[j].Value
	})
	return pv
}

// errText renders err for a report. Transport errors quote the request URL,
// which carries the signature on signed endpoints.
func errText(err error) string {
	msg := err.Error()
	if security.ContainsSensitiveData(msg) {
		return security.MaskSensitive(msg)
	}
	return msg
}
