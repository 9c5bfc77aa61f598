package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "pnl-dashboard/internal/errors"
	"pnl-dashboard/internal/logging"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/internal/security"
)

const (
	myTradesLimit = 1000
	maxFillPages  = 50

	codeInvalidAPIKey    = -2015
	codeInvalidSignature = -1022
	codeInvalidSymbol    = -1121
)

// BinanceConfig holds configuration for the Binance REST client.
type BinanceConfig struct {
	APIKey            string
	APISecret         string
	BaseURLs          []string
	RecvWindow        int64
	Timeout           time.Duration
	RequestsPerSecond float64
	Breaker           BreakerConfig
	Logger            zerolog.Logger
	HTTPClient        *http.Client
}

// BinanceClient implements Provider against the Binance spot REST API.
type BinanceClient struct {
	apiKey     string
	apiSecret  string
	baseURLs   []string
	recvWindow int64
	client     *http.Client
	limiter    *RateLimiter
	breakers   map[string]*endpointBreaker
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBinanceClient creates a new Binance client.
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	breakerCfg := cfg.Breaker
	if breakerCfg == (BreakerConfig{}) {
		breakerCfg = DefaultBreakerConfig()
	}
	breakers := make(map[string]*endpointBreaker, len(cfg.BaseURLs))
	for _, base := range cfg.BaseURLs {
		breakers[base] = newEndpointBreaker(breakerCfg)
	}

	burst := int(cfg.RequestsPerSecond)
	return &BinanceClient{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURLs:   cfg.BaseURLs,
		recvWindow: cfg.RecvWindow,
		client:     client,
		limiter:    NewRateLimiter(cfg.RequestsPerSecond, burst),
		breakers:   breakers,
		logger:     cfg.Logger.With().Str("component", "binance").Logger(),
		now:        time.Now,
	}
}

// apiError is the error payload the exchange returns alongside non-2xx codes.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// sign returns the hex HMAC-SHA256 of the query string keyed by the secret.
func (b *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs a GET against each base URL in turn and decodes the first
// usable answer into out.
func (b *BinanceClient) get(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if signed && (b.apiKey == "" || b.apiSecret == "") {
		return apperrors.Wrap(apperrors.ErrNotAuthenticated, "missing API credentials")
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	// Stamp after admission so a throttled request stays inside recvWindow.
	if signed {
		params.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
		if b.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(b.recvWindow, 10))
		}
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + b.sign(query)
	}

	var lastErr error
	for _, base := range orderEndpoints(b.baseURLs, b.breakers, b.now()) {
		start := time.Now()
		retry, err := b.try(ctx, base, path, query, signed, out)
		logging.LogAPICall(b.logger, http.MethodGet, path, time.Since(start), err)
		breaker := b.breakers[base]
		if err == nil {
			breaker.recordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retry {
			// The endpoint answered, even if with an error of its own.
			breaker.recordSuccess()
			return err
		}
		breaker.recordFailure(b.now())
		b.logger.Debug().Str("base", base).Err(err).Msg("endpoint unavailable, trying next")
		lastErr = err
	}

	return apperrors.Wrapf(apperrors.Join(apperrors.ErrAllEndpointsFailed, lastErr), "GET %s", path)
}

// try issues one request. The returned bool reports whether the next base
// URL should be attempted.
func (b *BinanceClient) try(ctx context.Context, base, path, query string, signed bool, out interface{}) (bool, error) {
	u := strings.TrimRight(base, "/") + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.apiKey)
	}

	b.logger.Debug().Str("url", security.MaskSensitive(u)).Msg("request")

	resp, err := b.client.Do(req)
	if err != nil {
		var ne net.Error
		if apperrors.As(err, &ne) && ne.Timeout() && ctx.Err() == nil {
			return true, apperrors.Join(apperrors.ErrTimeout, err)
		}
		return true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("reading response: %w", err)
	}

	var apiErr apiError
	hasAPIErr := json.Unmarshal(body, &apiErr) == nil && (apiErr.Code != 0 || apiErr.Msg != "")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return false, apperrors.NewExchangeError(apiErr.Code, apiErr.Msg, apperrors.ErrRateLimited)
	case resp.StatusCode == http.StatusUnavailableForLegalReasons || isRestricted(apiErr.Msg):
		return true, apperrors.NewExchangeError(apiErr.Code, apiErr.Msg, apperrors.ErrRestricted)
	case resp.StatusCode >= 500:
		return true, apperrors.NewExchangeError(resp.StatusCode, strings.TrimSpace(string(body)), nil)
	case resp.StatusCode >= 400 || (hasAPIErr && apiErr.Code < 0):
		if apiErr.Code == codeInvalidAPIKey || apiErr.Code == codeInvalidSignature || resp.StatusCode == http.StatusUnauthorized {
			return false, apperrors.NewExchangeError(apiErr.Code, apiErr.Msg, apperrors.ErrNotAuthenticated)
		}
		if apiErr.Code == codeInvalidSymbol {
			return false, apperrors.NewExchangeError(apiErr.Code, apiErr.Msg, apperrors.ErrSymbolNotFound)
		}
		return false, apperrors.NewExchangeError(apiErr.Code, apiErr.Msg, nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decoding %s: %w", path, err)
	}
	return false, nil
}

func isRestricted(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "restricted")
}

// parseNumber parses an exchange numeric string, yielding 0 when malformed.
func parseNumber(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// GetAccount returns the account balances.
func (b *BinanceClient) GetAccount(ctx context.Context) (*models.Account, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
		UpdateTime int64 `json:"updateTime"`
	}
	if err := b.get(ctx, "/api/v3/account", nil, true, &resp); err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}

	account := &models.Account{
		Balances:  make([]models.Balance, 0, len(resp.Balances)),
		UpdatedAt: time.UnixMilli(resp.UpdateTime).UTC(),
	}
	for _, bal := range resp.Balances {
		account.Balances = append(account.Balances, models.Balance{
			Asset:  strings.ToUpper(bal.Asset),
			Free:   parseNumber(bal.Free),
			Locked: parseNumber(bal.Locked),
		})
	}
	return account, nil
}

// GetFills returns the account's executions on pair since the given time,
// following fromId pagination until a short page is returned.
func (b *BinanceClient) GetFills(ctx context.Context, pair models.Pair, since time.Time) ([]models.RawFill, error) {
	var fills []models.RawFill
	var fromID int64 = -1

	for page := 0; page < maxFillPages; page++ {
		params := url.Values{}
		params.Set("symbol", string(pair))
		params.Set("limit", strconv.Itoa(myTradesLimit))
		if fromID >= 0 {
			params.Set("fromId", strconv.FormatInt(fromID, 10))
		} else if !since.IsZero() {
			params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		}

		var batch []models.RawFill
		if err := b.get(ctx, "/api/v3/myTrades", params, true, &batch); err != nil {
			return nil, apperrors.NewDataError("fills", string(pair), "fetch failed", err)
		}
		fills = append(fills, batch...)

		if len(batch) < myTradesLimit {
			break
		}
		fromID = batch[len(batch)-1].ID + 1
	}

	return fills, nil
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice returns the last traded price of pair.
func (b *BinanceClient) GetPrice(ctx context.Context, pair models.Pair) (float64, error) {
	params := url.Values{}
	params.Set("symbol", string(pair))

	var resp tickerPrice
	if err := b.get(ctx, "/api/v3/ticker/price", params, false, &resp); err != nil {
		return 0, apperrors.NewDataError("price", string(pair), "fetch failed", err)
	}

	price := parseNumber(resp.Price)
	if price <= 0 {
		return 0, apperrors.NewDataError("price", string(pair), "no price", apperrors.ErrPriceUnavailable)
	}
	return price, nil
}

// GetPrices returns last prices for several pairs in one request. When the
// batch is rejected (typically an unknown symbol) each pair is fetched
// individually and the ones that fail are left out.
func (b *BinanceClient) GetPrices(ctx context.Context, pairs []models.Pair) (map[models.Pair]float64, error) {
	prices := make(map[models.Pair]float64, len(pairs))
	if len(pairs) == 0 {
		return prices, nil
	}

	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		symbols[i] = string(p)
	}
	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbols", string(encoded))

	var resp []tickerPrice
	err = b.get(ctx, "/api/v3/ticker/price", params, false, &resp)
	if err == nil {
		for _, tp := range resp {
			if price := parseNumber(tp.Price); price > 0 {
				prices[models.Pair(tp.Symbol)] = price
			}
		}
		return prices, nil
	}

	var exErr *apperrors.ExchangeError
	if !apperrors.As(err, &exErr) || apperrors.Is(err, apperrors.ErrRateLimited) || apperrors.Is(err, apperrors.ErrAllEndpointsFailed) {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}

	b.logger.Debug().Err(err).Msg("batch price request rejected, fetching pairs individually")
	for _, p := range pairs {
		price, err := b.GetPrice(ctx, p)
		if err != nil {
			continue
		}
		prices[p] = price
	}
	return prices, nil
}

// GetTicker24h returns rolling 24h statistics for pair.
func (b *BinanceClient) GetTicker24h(ctx context.Context, pair models.Pair) (*models.Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", string(pair))

	var resp struct {
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	if err := b.get(ctx, "/api/v3/ticker/24hr", params, false, &resp); err != nil {
		return nil, apperrors.NewDataError("ticker", string(pair), "fetch failed", err)
	}

	return &models.Ticker24h{
		PriceChangePercent: parseNumber(resp.PriceChangePercent),
		HighPrice:          parseNumber(resp.HighPrice),
		LowPrice:           parseNumber(resp.LowPrice),
		Volume:             parseNumber(resp.Volume),
		QuoteVolume:        parseNumber(resp.QuoteVolume),
	}, nil
}

// EndpointStats reports the breaker state of every configured base URL in
// configured order.
func (b *BinanceClient) EndpointStats() []EndpointStats {
	stats := make([]EndpointStats, 0, len(b.baseURLs))
	for _, base := range b.baseURLs {
		stats = append(stats, b.breakers[base].stats(base))
	}
	return stats
}
