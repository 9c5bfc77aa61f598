package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnl-dashboard/internal/broker"
	"pnl-dashboard/internal/config"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/internal/store"
	"pnl-dashboard/internal/stream"
)

var testNow = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:   "127.0.0.1:0",
		AllowOrigin:  "http://localhost:5173",
		HistoryLimit: 50,
		WriteTimeout: time.Second,
	}
}

func testReport(seq uint64, pnl float64) *models.Report {
	return &models.Report{
		Seq:         seq,
		Date:        "2024-05-10",
		GeneratedAt: testNow,
		Pairs: []models.PairReport{{
			Symbol:  "BTCUSDT",
			Asset:   "BTC",
			Summary: models.PairSummary{Pair: "BTCUSDT", RealizedPnl: pnl, TotalPnl: pnl, Trades: 2},
		}},
		Summary: models.PortfolioSummary{ActivePairs: 1, RealizedPnl: pnl, TotalPnl: pnl},
		Portfolio: &models.PortfolioValuation{
			Holdings:   []models.Holding{{Asset: "USDT", Balance: 10, Price: 1, Value: 10}},
			TotalValue: 10,
		},
	}
}

type fixture struct {
	hub     *stream.Hub
	journal *store.SQLiteStore
	server  *Server
	handler http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	journal, err := store.NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	hub := stream.NewHub(zerolog.Nop())
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	s := New(testConfig(), hub, journal, zerolog.Nop(), opts...)
	return &fixture{hub: hub, journal: journal, server: s, handler: s.Router()}
}

func (f *fixture) get(t *testing.T, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHandleTrades(t *testing.T) {
	f := newFixture(t)

	rr := f.get(t, "/api/trades")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "no report")

	require.True(t, f.hub.Publish(testReport(3, 12.5)))
	rr = f.get(t, "/api/trades")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["seq"])
	assert.Equal(t, "2024-05-10", body["date"])
	symbols, ok := body["symbols"].([]interface{})
	require.True(t, ok)
	assert.Len(t, symbols, 1)
}

func TestHandlePortfolio(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/api/portfolio").Code)

	f.hub.Publish(testReport(1, 0))
	rr := f.get(t, "/api/portfolio")
	require.Equal(t, http.StatusOK, rr.Code)

	var body portfolioResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Seq)
	require.NotNil(t, body.Portfolio)
	assert.Equal(t, 10.0, body.Portfolio.TotalValue)
}

func TestHandleHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr := f.get(t, "/api/history")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, f.journal.RecordCycle(ctx, testReport(i, float64(i))))
	}

	rr = f.get(t, "/api/history?limit=2&pairs=true")
	require.Equal(t, http.StatusOK, rr.Code)
	var cycles []models.CycleRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cycles))
	require.Len(t, cycles, 2)
	assert.EqualValues(t, 3, cycles[0].Seq)
	assert.Len(t, cycles[0].Pairs, 1)

	tests := []struct {
		name string
		path string
	}{
		{"non-numeric limit", "/api/history?limit=abc"},
		{"zero limit", "/api/history?limit=0"},
		{"bad pairs flag", "/api/history?pairs=maybe"},
		{"bad since", "/api/history?since=yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, f.get(t, tt.path).Code)
		})
	}
}

func TestHandlePairHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, f.journal.RecordCycle(ctx, testReport(i, float64(i)*2)))
	}

	rr := f.get(t, "/api/history/btcusdt?limit=3")
	require.Equal(t, http.StatusOK, rr.Code)

	var history []store.PairSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history, 3)
	assert.EqualValues(t, 4, history[0].Seq)
	assert.Equal(t, 8.0, history[0].Summary.RealizedPnl)

	rr = f.get(t, "/api/history/DOGEUSDT")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestHistoryWithoutJournal(t *testing.T) {
	s := New(testConfig(), stream.NewHub(zerolog.Nop()), nil, zerolog.Nop())
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, WithStaleAfter(time.Minute))

	rr := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	var health SystemHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, HealthStatusDegraded, health.Status, "no report yet")
	require.Len(t, health.Components, 2)
	assert.Equal(t, "journal", health.Components[0].Name)
	assert.Equal(t, "report", health.Components[1].Name)

	f.hub.Publish(testReport(1, 0))
	rr = f.get(t, "/healthz")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, HealthStatusHealthy, health.Status)

	stale := testReport(2, 0)
	stale.GeneratedAt = testNow.Add(-5 * time.Minute)
	f.hub.Publish(stale)
	rr = f.get(t, "/healthz")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, HealthStatusDegraded, health.Status)
	assert.Contains(t, health.Components[1].Message, "no report for")

	require.NoError(t, f.journal.Close())
	rr = f.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, HealthStatusUnhealthy, health.Status)
	assert.EqualValues(t, 1, health.FailedChecks)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	rr := f.get(t, "/api/trades", "Origin", "http://127.0.0.1:3000")
	assert.Equal(t, "http://127.0.0.1:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = f.get(t, "/api/trades", "Origin", "https://evil.example")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	rr = f.get(t, "/api/portfolio", "Origin", "http://localhost.evil.example")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/trades", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	pre := httptest.NewRecorder()
	f.handler.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "GET, OPTIONS", pre.Header().Get("Access-Control-Allow-Methods"))
}

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		origin     string
		want       bool
	}{
		{"wildcard", "*", "https://any.example", true},
		{"no origin header", "https://dash.example", "", true},
		{"exact match", "https://dash.example", "https://DASH.example", true},
		{"loopback variants", "http://localhost:5173", "http://127.0.0.1:8080", true},
		{"mismatch", "https://dash.example", "https://evil.example", false},
		{"loopback request to remote config", "https://dash.example", "http://localhost:3000", false},
		{"ipv6 loopback", "http://localhost:5173", "http://[::1]:3000", true},
		{"localhost subdomain lookalike", "http://localhost:5173", "http://localhost.evil.example", false},
		{"loopback ip lookalike", "http://localhost:5173", "https://127.0.0.1.attacker.example", false},
		{"localhost in query", "http://localhost:5173", "https://evil.example/?x=localhost", false},
		{"null origin", "http://localhost:5173", "null", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, allowOrigin(req, tt.configured))
		})
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func TestWebSocket_StreamsReports(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.hub.Start(ctx)
	defer f.hub.Stop()

	f.hub.Publish(testReport(1, 1))

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first models.Report
	require.NoError(t, conn.ReadJSON(&first))
	assert.EqualValues(t, 1, first.Seq, "primed with the latest report")

	require.Eventually(t, func() bool { return f.hub.GetSubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Publish(testReport(2, 2))

	var second models.Report
	require.NoError(t, conn.ReadJSON(&second))
	assert.EqualValues(t, 2, second.Seq)
	assert.Equal(t, 2.0, second.Summary.TotalPnl)
}

func TestWebSocket_UnsubscribesOnClose(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.hub.GetSubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.GetSubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	for _, origin := range []string{"https://evil.example", "http://localhost.evil.example"} {
		header := http.Header{}
		header.Set("Origin", origin)
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
		require.Error(t, err, origin)
		require.NotNil(t, resp, origin)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, origin)
	}
}

func TestServer_StartAfterShutdownReturns(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.server.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- f.server.Start() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestExchangeHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		states []broker.CircuitState
		want   HealthStatus
	}{
		{"all closed", []broker.CircuitState{broker.CircuitClosed, broker.CircuitClosed}, HealthStatusHealthy},
		{"one open", []broker.CircuitState{broker.CircuitOpen, broker.CircuitClosed}, HealthStatusDegraded},
		{"half open probe", []broker.CircuitState{broker.CircuitHalfOpen}, HealthStatusHealthy},
		{"all open", []broker.CircuitState{broker.CircuitOpen, broker.CircuitOpen}, HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := make([]broker.EndpointStats, len(tt.states))
			for i, st := range tt.states {
				stats[i] = broker.EndpointStats{BaseURL: "https://api" + string(rune('1'+i)) + ".example", State: st}
			}
			h := ExchangeHealthCheck(func() []broker.EndpointStats { return stats })(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Details, len(stats))
		})
	}
}
