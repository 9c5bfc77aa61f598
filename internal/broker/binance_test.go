package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pnl-dashboard/internal/errors"
	"pnl-dashboard/internal/models"
)

func newTestClient(bases ...string) *BinanceClient {
	c := NewBinanceClient(BinanceConfig{
		APIKey:     "test-key",
		APISecret:  "test-secret",
		BaseURLs:   bases,
		RecvWindow: 5000,
		Timeout:    2 * time.Second,
		Logger:     zerolog.Nop(),
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestBinanceClient_SignsRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if !assert.Greater(t, idx, 0) {
			return
		}

		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(raw[:idx]))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), raw[idx+len("&signature="):])
		assert.Equal(t, "1700000000000", r.URL.Query().Get("timestamp"))
		assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))

		fmt.Fprint(w, `{"updateTime":1700000000000,"balances":[{"asset":"btc","free":"0.5","locked":"0.25"},{"asset":"USDT","free":"100","locked":"0"}]}`)
	}))
	defer srv.Close()

	account, err := newTestClient(srv.URL).GetAccount(context.Background())
	require.NoError(t, err)
	require.Len(t, account.Balances, 2)
	assert.Equal(t, "BTC", account.Balances[0].Asset)
	assert.InDelta(t, 0.75, account.Balances[0].Total(), 1e-12)
	assert.InDelta(t, 100, account.Balances[1].Free, 1e-12)
}

func TestBinanceClient_MissingCredentials(t *testing.T) {
	c := NewBinanceClient(BinanceConfig{BaseURLs: []string{"http://127.0.0.1:1"}, Logger: zerolog.Nop()})
	_, err := c.GetAccount(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAuthenticated))
}

func TestBinanceClient_FallsBackOnRestriction(t *testing.T) {
	var restrictedHits, serverErrHits int32

	restricted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&restrictedHits, 1)
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
		fmt.Fprint(w, `{"code":0,"msg":"Service unavailable from a restricted location"}`)
	}))
	defer restricted.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&serverErrHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"65000.50"}`)
	}))
	defer healthy.Close()

	price, err := newTestClient(restricted.URL, broken.URL, healthy.URL).GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 65000.5, price, 1e-9)
	assert.EqualValues(t, 1, atomic.LoadInt32(&restrictedHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&serverErrHits))
}

func TestBinanceClient_RestrictedBodyWithOK(t *testing.T) {
	restricted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"msg":"restricted location"}`)
	}))
	defer restricted.Close()

	_, err := newTestClient(restricted.URL).GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAllEndpointsFailed))
	assert.True(t, apperrors.Is(err, apperrors.ErrRestricted))
}

func TestBinanceClient_AuthErrorStopsFallback(t *testing.T) {
	var secondHits int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
		fmt.Fprint(w, `[]`)
	}))
	defer second.Close()

	_, err := newTestClient(first.URL, second.URL).GetFills(context.Background(), "ETHUSDT", time.Time{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotAuthenticated))

	var exErr *apperrors.ExchangeError
	require.True(t, apperrors.As(err, &exErr))
	assert.Equal(t, -2015, exErr.Code)
	assert.Zero(t, atomic.LoadInt32(&secondHits))
}

func TestBinanceClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetTicker24h(context.Background(), "BTCUSDT")
	assert.True(t, apperrors.Is(err, apperrors.ErrRateLimited))
}

func TestBinanceClient_GetFillsPaginates(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1000", q.Get("limit"))

		start, count := int64(1), myTradesLimit
		if atomic.AddInt32(&calls, 1) == 1 {
			assert.Equal(t, "1699920000000", q.Get("startTime"))
			assert.Empty(t, q.Get("fromId"))
		} else {
			assert.Empty(t, q.Get("startTime"))
			from, err := strconv.ParseInt(q.Get("fromId"), 10, 64)
			assert.NoError(t, err)
			start, count = from, 3
		}

		parts := make([]string, 0, count)
		for i := 0; i < count; i++ {
			id := start + int64(i)
			parts = append(parts, fmt.Sprintf(`{"id":%d,"orderId":%d,"symbol":"BTCUSDT","price":"100","qty":"1","quoteQty":"100","commission":"0.1","commissionAsset":"USDT","time":1699920001000,"isBuyer":true,"isMaker":false}`, id, id))
		}
		fmt.Fprint(w, "["+strings.Join(parts, ",")+"]")
	}))
	defer srv.Close()

	since := time.UnixMilli(1699920000000)
	fills, err := newTestClient(srv.URL).GetFills(context.Background(), "BTCUSDT", since)
	require.NoError(t, err)
	assert.Len(t, fills, myTradesLimit+3)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, myTradesLimit+1, fills[myTradesLimit].ID)
}

func TestBinanceClient_GetPricesFallsBackPerPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbols") != "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		switch q.Get("symbol") {
		case "BTCUSDT":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"60000"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
		}
	}))
	defer srv.Close()

	prices, err := newTestClient(srv.URL).GetPrices(context.Background(), []models.Pair{"BTCUSDT", "NOPEUSDT"})
	require.NoError(t, err)
	assert.Equal(t, map[models.Pair]float64{"BTCUSDT": 60000}, prices)
}

func TestBinanceClient_GetPricesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `["BTCUSDT","BNBUSDT"]`, r.URL.Query().Get("symbols"))
		fmt.Fprint(w, `[{"symbol":"BTCUSDT","price":"60000"},{"symbol":"BNBUSDT","price":"580.5"}]`)
	}))
	defer srv.Close()

	prices, err := newTestClient(srv.URL).GetPrices(context.Background(), []models.Pair{"BTCUSDT", "BNBUSDT"})
	require.NoError(t, err)
	assert.InDelta(t, 580.5, prices["BNBUSDT"], 1e-9)
	assert.Len(t, prices, 2)
}

func TestBinanceClient_AllEndpointsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, url).GetPrice(context.Background(), "BTCUSDT")
	assert.True(t, apperrors.Is(err, apperrors.ErrAllEndpointsFailed))
}

func TestBinanceClient_UnknownSymbol(t *testing.T) {
	var secondHits int32
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&secondHits, 1)
		fmt.Fprint(w, `{"symbol":"NOPEUSDT","price":"1"}`)
	}))
	defer second.Close()

	_, err := newTestClient(first.URL, second.URL).GetPrice(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrSymbolNotFound))
	assert.False(t, apperrors.Is(err, apperrors.ErrAllEndpointsFailed))
	assert.Zero(t, atomic.LoadInt32(&secondHits))
}

func TestBinanceClient_TimeoutFallsThrough(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	c := newTestClient(slow.URL)
	c.client.Timeout = 50 * time.Millisecond

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeout))
	assert.True(t, apperrors.Is(err, apperrors.ErrAllEndpointsFailed))
}

func TestBinanceClient_StampsAfterThrottle(t *testing.T) {
	var stamped int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts, err := strconv.ParseInt(r.URL.Query().Get("timestamp"), 10, 64)
		assert.NoError(t, err)
		atomic.StoreInt64(&stamped, ts)
		fmt.Fprint(w, `{"updateTime":1700000000000,"balances":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.now = time.Now
	c.limiter = NewRateLimiter(10, 1)
	require.True(t, c.limiter.Allow())

	before := time.Now()
	_, err := c.GetAccount(context.Background())
	require.NoError(t, err)

	// One token at 10/s takes 100ms to refill.
	assert.GreaterOrEqual(t, atomic.LoadInt64(&stamped), before.Add(80*time.Millisecond).UnixMilli())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.Canceled)
}
