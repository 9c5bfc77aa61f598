package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "pnl-dashboard/internal/errors"
	"pnl-dashboard/internal/models"
)

// ReplayFixture is the on-disk shape served by ReplayProvider.
type ReplayFixture struct {
	Account      *models.Account                   `json:"account"`
	AccountError string                            `json:"accountError,omitempty"`
	Prices       map[models.Pair]float64           `json:"prices"`
	Tickers      map[models.Pair]*models.Ticker24h `json:"tickers"`
	Fills        map[models.Pair][]models.RawFill  `json:"fills"`
	FailPairs    []models.Pair                     `json:"failPairs,omitempty"`
}

// ReplayProvider serves a recorded fixture instead of calling the exchange.
// The since window of GetFills is ignored; the fixture is taken to hold
// exactly the day being replayed.
type ReplayProvider struct {
	fixture ReplayFixture
	failing map[models.Pair]bool
	mu      sync.RWMutex
}

// NewReplayProvider creates a provider serving the given fixture.
func NewReplayProvider(fixture ReplayFixture) *ReplayProvider {
	p := &ReplayProvider{failing: make(map[models.Pair]bool)}
	p.Load(fixture)
	return p
}

// NewReplayProviderFromFile reads a JSON fixture from path.
func NewReplayProviderFromFile(path string) (*ReplayProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading replay file: %w", err)
	}

	var fixture ReplayFixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parsing replay file %s: %w", path, err)
	}
	return NewReplayProvider(fixture), nil
}

// Load swaps the served fixture.
func (p *ReplayProvider) Load(fixture ReplayFixture) {
	failing := make(map[models.Pair]bool, len(fixture.FailPairs))
	for _, pair := range fixture.FailPairs {
		failing[models.Pair(strings.ToUpper(string(pair)))] = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixture = fixture
	p.failing = failing
}

// GetAccount returns the fixture account.
func (p *ReplayProvider) GetAccount(ctx context.Context) (*models.Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.fixture.AccountError != "" {
		return nil, apperrors.NewExchangeError(0, p.fixture.AccountError, apperrors.ErrNotAuthenticated)
	}
	if p.fixture.Account == nil {
		return nil, apperrors.Wrap(apperrors.ErrDataNotFound, "fixture has no account")
	}

	account := *p.fixture.Account
	account.Balances = append([]models.Balance(nil), p.fixture.Account.Balances...)
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	return &account, nil
}

// GetFills returns the fixture fills for pair.
func (p *ReplayProvider) GetFills(ctx context.Context, pair models.Pair, since time.Time) ([]models.RawFill, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.failing[pair] {
		return nil, apperrors.NewDataError("fills", string(pair), "replayed failure", apperrors.ErrAllEndpointsFailed)
	}
	return append([]models.RawFill(nil), p.fixture.Fills[pair]...), nil
}

// GetPrice returns the fixture price for pair.
func (p *ReplayProvider) GetPrice(ctx context.Context, pair models.Pair) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.fixture.Prices[pair]
	if !ok || price <= 0 || p.failing[pair] {
		return 0, apperrors.NewDataError("price", string(pair), "no price", apperrors.ErrPriceUnavailable)
	}
	return price, nil
}

// GetPrices returns fixture prices for the pairs that have one.
func (p *ReplayProvider) GetPrices(ctx context.Context, pairs []models.Pair) (map[models.Pair]float64, error) {
	prices := make(map[models.Pair]float64, len(pairs))
	for _, pair := range pairs {
		if price, err := p.GetPrice(ctx, pair); err == nil {
			prices[pair] = price
		}
	}
	return prices, nil
}

// GetTicker24h returns the fixture ticker for pair.
func (p *ReplayProvider) GetTicker24h(ctx context.Context, pair models.Pair) (*models.Ticker24h, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t, ok := p.fixture.Tickers[pair]
	if !ok || t == nil {
		return nil, apperrors.NewDataError("ticker", string(pair), "no ticker", apperrors.ErrDataNotFound)
	}
	ticker := *t
	return &ticker, nil
}

// Pairs lists the pairs with recorded fills, sorted.
func (p *ReplayProvider) Pairs() []models.Pair {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pairs := make([]models.Pair, 0, len(p.fixture.Fills))
	for pair := range p.fixture.Fills {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i] < pairs[j] })
	return pairs
}
