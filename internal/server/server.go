// Package server exposes the latest report, the cycle journal and a live
// report feed over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pnl-dashboard/internal/config"
	apperrors "pnl-dashboard/internal/errors"
	"pnl-dashboard/internal/models"
	"pnl-dashboard/internal/store"
	"pnl-dashboard/internal/stream"
)

const maxHistoryLimit = 1000

// Server serves the dashboard API.
type Server struct {
	cfg      config.ServerConfig
	hub      *stream.Hub
	journal  store.Journal
	health   *HealthMonitor
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	http     *http.Server
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithStaleAfter marks the report health check degraded when no report has
// been published for d.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		s.health.RegisterComponent("report", ReportFreshnessCheck(s.hub.Latest, d, func() time.Time { return s.now() }))
	}
}

// WithHealthCheck registers an additional component on /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.health.RegisterComponent(name, check) }
}

// WithClock overrides the time source used by health checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

type pinger interface {
	Ping(ctx context.Context) error
}

// New builds a server over hub and journal. journal may be nil, in which
// case the history endpoints answer 404.
func New(cfg config.ServerConfig, hub *stream.Hub, journal store.Journal, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		journal: journal,
		health:  NewHealthMonitor(),
		logger:  logger.With().Str("component", "server").Logger(),
		now:     time.Now,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, cfg.AllowOrigin) },
	}
	s.health.RegisterComponent("report", ReportFreshnessCheck(hub.Latest, 0, func() time.Time { return s.now() }))
	if p, ok := journal.(pinger); ok {
		s.health.RegisterComponent("journal", JournalHealthCheck(p.Ping))
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the HTTP handler with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.cors)

	r.Get("/healthz", s.health.HealthHTTPHandler())
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/trades", s.handleTrades)
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/history", s.handleHistory)
		r.Get("/history/{pair}", s.handlePairHistory)
	})
	return r
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return apperrors.Wrap(err, "serving HTTP")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	report := s.hub.Latest()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrNoReport.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type portfolioResponse struct {
	Seq         uint64                     `json:"seq"`
	GeneratedAt time.Time                  `json:"lastUpdated"`
	Portfolio   *models.PortfolioValuation `json:"portfolio"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	report := s.hub.Latest()
	if report == nil || report.Portfolio == nil {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrNoReport.Error())
		return
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		Seq:         report.Seq,
		GeneratedAt: report.GeneratedAt,
		Portfolio:   report.Portfolio,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit, err := s.limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.CycleFilter{Limit: limit}
	if v := r.URL.Query().Get("pairs"); v != "" {
		filter.IncludePairs, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "pairs must be a boolean")
			return
		}
	}
	if v := r.URL.Query().Get("since"); v != "" {
		filter.Since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
	}

	cycles, err := s.journal.ListCycles(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing cycles")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if cycles == nil {
		cycles = []models.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handlePairHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	pair := models.Pair(strings.ToUpper(chi.URLParam(r, "pair")))
	limit, err := s.limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := s.journal.PairHistory(r.Context(), pair, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("pair", string(pair)).Msg("reading pair history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if history == nil {
		history = []store.PairSnapshot{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) limitParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return s.cfg.HistoryLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, apperrors.NewValidationError("limit", v, "must be a positive integer")
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}
	return n, nil
}

// serveWS streams every report the hub fans out, starting with the latest
// one, until the client goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, reports := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	s.logger.Debug().Str("subscriber", id).Msg("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case report, ok := <-reports:
			if !ok {
				return
			}
			if s.cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if err := conn.WriteJSON(report); err != nil {
				s.logger.Debug().Err(err).Str("subscriber", id).Msg("websocket write failed")
				return
			}
		case <-done:
			s.logger.Debug().Str("subscriber", id).Msg("websocket closed")
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ============================================================================
// Middleware
// ============================================================================

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowOrigin(r, s.cfg.AllowOrigin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// allowOrigin accepts any origin for "*", any loopback origin when the
// configured origin is itself loopback, and otherwise an exact match.
func allowOrigin(r *http.Request, origin string) bool {
	reqOrigin := r.Header.Get("Origin")
	if origin == "*" || reqOrigin == "" {
		return true
	}
	if isLoopback(origin) && isLoopback(reqOrigin) {
		return true
	}
	return strings.EqualFold(reqOrigin, origin)
}

// isLoopback reports whether origin names a loopback host. Only the parsed
// host counts, so lookalikes such as localhost.example are rejected.
func isLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
