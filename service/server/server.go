package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/summary"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP shell around the wallet monitor.
type Server struct {
	addr       string
	monitor    Monitor
	history    History
	aggregator *summary.Aggregator
	feed       *Feed
	archive    Archive
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The feed is optional - if nil, the stream endpoint won't be available.
// The archive is optional - if nil, the archive endpoint won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, monitor Monitor, history History, feed *Feed, archive Archive, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		addr:       addr,
		monitor:    monitor,
		history:    history,
		aggregator: summary.NewAggregator(history),
		feed:       feed,
		archive:    archive,
		metrics:    m,
		logger:     logger,
	}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the stream endpoint holds responses open.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Monitor session routes
	route("POST /api/v1/monitor", "start_monitor", handleStartMonitor(s.monitor, s.logger))
	route("DELETE /api/v1/monitor", "stop_monitor", handleStopMonitor(s.monitor, s.logger))
	route("GET /api/v1/monitor", "monitor_status", handleMonitorStatus(s.monitor))

	// Journal read routes
	route("GET /api/v1/transactions", "list_transactions", handleListTransactions(s.history, s.monitor))
	route("GET /api/v1/summary", "summary", handleSummary(s.aggregator))

	if s.archive != nil {
		route("GET /api/v1/archive", "list_archive", handleListArchive(s.archive, s.monitor, s.logger))
	}

	// Live feed (if configured)
	if s.feed != nil {
		mux.Handle("GET /api/v1/stream", handleStream(s.feed, s.monitor, s.metrics, s.logger))
	} else {
		s.logger.Warn("live feed not configured, stream endpoint disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the feed first so stream handlers return
	if s.feed != nil {
		s.feed.Close()
	}

	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
