package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Transaction Processing Metrics
	transactionsParsedTotal  *prometheus.CounterVec
	transactionsSkippedTotal *prometheus.CounterVec

	// Poll Loop Metrics
	pollCycleDuration   *prometheus.HistogramVec
	pollCyclesTotal     *prometheus.CounterVec
	pollSessionsStarted prometheus.Counter
	pollSessionsActive  prometheus.Gauge

	// Journal Metrics
	journalRecords       prometheus.Gauge
	journalAppendedTotal prometheus.Counter
	journalSaveDuration  prometheus.Histogram
	journalFailuresTotal *prometheus.CounterVec

	// Lookup Metrics (token list + prices)
	lookupRequestsTotal *prometheus.CounterVec
	lookupDuration      *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{1, 5, 10, 20, 50, 100},
			},
			[]string{"endpoint"},
		),

		// Transaction Processing Metrics
		transactionsParsedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_parsed_total",
				Help: "Total number of transactions parsed",
			},
			[]string{"wallet_address", "status"},
		),
		transactionsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_skipped_total",
				Help: "Total number of transactions skipped",
			},
			[]string{"wallet_address", "reason"},
		),

		// Poll Loop Metrics
		pollCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_cycle_duration_seconds",
				Help:    "Duration of one poll cycle (fetch, parse, append) in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"wallet_address", "outcome"},
		),
		pollCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poll_cycles_total",
				Help: "Total number of poll cycles by outcome",
			},
			[]string{"wallet_address", "outcome"},
		),
		pollSessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "poll_sessions_started_total",
				Help: "Total number of polling sessions started",
			},
		),
		pollSessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "poll_sessions_active",
				Help: "Number of polling sessions currently running (0 or 1)",
			},
		),

		// Journal Metrics
		journalRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "journal_records",
				Help: "Number of records currently held by the journal",
			},
		),
		journalAppendedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "journal_records_appended_total",
				Help: "Total number of records with a previously unseen signature",
			},
		),
		journalSaveDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "journal_save_duration_seconds",
				Help:    "Duration of full journal rewrites in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		journalFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "journal_failures_total",
				Help: "Total number of journal load and save failures",
			},
			[]string{"operation"},
		),

		// Lookup Metrics
		lookupRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookup_requests_total",
				Help: "Total number of token list and price lookups",
			},
			[]string{"kind", "status"},
		),
		lookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lookup_duration_seconds",
				Help:    "Duration of token list and price lookups in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"kind"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Transaction processing metric helpers

// RecordTransactionParsed records a transaction parse attempt.
func (m *Metrics) RecordTransactionParsed(walletAddress, status string) {
	m.transactionsParsedTotal.WithLabelValues(walletAddress, status).Inc()
}

// RecordTransactionsSkipped records transactions skipped.
func (m *Metrics) RecordTransactionsSkipped(walletAddress, reason string, count int) {
	m.transactionsSkippedTotal.WithLabelValues(walletAddress, reason).Add(float64(count))
}

// Poll loop metric helpers

// RecordPollCycle records one poll cycle and its outcome.
func (m *Metrics) RecordPollCycle(walletAddress, outcome string, duration float64) {
	m.pollCycleDuration.WithLabelValues(walletAddress, outcome).Observe(duration)
	m.pollCyclesTotal.WithLabelValues(walletAddress, outcome).Inc()
}

// RecordSessionStarted records a polling session starting.
func (m *Metrics) RecordSessionStarted() {
	m.pollSessionsStarted.Inc()
	m.pollSessionsActive.Inc()
}

// RecordSessionStopped records a polling session exiting.
func (m *Metrics) RecordSessionStopped() {
	m.pollSessionsActive.Dec()
}

// Journal metric helpers

// RecordJournalSize sets the current journal record count.
func (m *Metrics) RecordJournalSize(count int) {
	m.journalRecords.Set(float64(count))
}

// RecordJournalAppend records newly seen records and the save duration.
func (m *Metrics) RecordJournalAppend(fresh int, saveDuration float64) {
	m.journalAppendedTotal.Add(float64(fresh))
	m.journalSaveDuration.Observe(saveDuration)
}

// RecordJournalFailure records a failed load or save.
func (m *Metrics) RecordJournalFailure(operation string) {
	m.journalFailuresTotal.WithLabelValues(operation).Inc()
}

// Lookup metric helpers

// RecordLookup records a token list or price lookup.
func (m *Metrics) RecordLookup(kind string, err error, duration float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.lookupRequestsTotal.WithLabelValues(kind, status).Inc()
	m.lookupDuration.WithLabelValues(kind).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
