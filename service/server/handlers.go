package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/brojonat/walletwatch/service/summary"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	defaultArchiveLimit = 100
	maxArchiveLimit     = 1000
)

// Monitor is the session control surface of the poller.
type Monitor interface {
	Start(wallet string) error
	Stop()
	Status() poller.Status
}

// History is the read side of the journal.
type History interface {
	Query(days int) []*solana.Record
}

// Archive is the optional Postgres copy of the journal.
type Archive interface {
	ListRecordsSince(ctx context.Context, wallet string, since time.Time, limit int32) ([]*solana.Record, error)
	CountRecords(ctx context.Context, wallet string) (int64, error)
}

// transactionsResponse is the body of the transactions and archive endpoints.
type transactionsResponse struct {
	Wallet       string           `json:"wallet,omitempty"`
	Days         int              `json:"days"`
	Period       string           `json:"period"`
	Count        int              `json:"count"`
	Total        *int64           `json:"total,omitempty"`
	Transactions []*solana.Record `json:"transactions"`
}

// handleStartMonitor starts (or restarts) monitoring for the wallet in the body.
func handleStartMonitor(monitor Monitor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Wallet string `json:"wallet"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode monitor request", "error", err)
			if strings.Contains(err.Error(), "http: request body too large") {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := monitor.Start(req.Wallet); err != nil {
			if errors.Is(err, poller.ErrInvalidWallet) {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.ErrorContext(r.Context(), "failed to start monitoring", "wallet", req.Wallet, "error", err)
			writeError(w, "failed to start monitoring", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "monitoring started via API", "wallet", req.Wallet)
		writeJSON(w, monitor.Status(), http.StatusOK)
	})
}

// handleStopMonitor stops the running session. Stopping an idle monitor is not an error.
func handleStopMonitor(monitor Monitor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		monitor.Stop()
		logger.InfoContext(r.Context(), "monitoring stopped via API")
		writeJSON(w, monitor.Status(), http.StatusOK)
	})
}

func handleMonitorStatus(monitor Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, monitor.Status(), http.StatusOK)
	})
}

// handleListTransactions returns journal records inside the requested period.
func handleListTransactions(history History, monitor Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		days, err := summary.ParsePeriod(r.URL.Query().Get("period"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		records := history.Query(days)
		if records == nil {
			records = []*solana.Record{}
		}
		writeJSON(w, transactionsResponse{
			Wallet:       monitor.Status().Wallet,
			Days:         days,
			Period:       summary.PeriodLabel(days),
			Count:        len(records),
			Transactions: records,
		}, http.StatusOK)
	})
}

// handleSummary aggregates the journal over the requested period.
// format=text returns the plain-text summary view.
func handleSummary(aggregator *summary.Aggregator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		days, err := summary.ParsePeriod(r.URL.Query().Get("period"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		s := aggregator.Summarize(days)
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(summary.FormatSummary(s)))
			return
		}
		writeJSON(w, s, http.StatusOK)
	})
}

// handleListArchive reads records back from the Postgres archive.
// The wallet defaults to the one currently monitored.
func handleListArchive(archive Archive, monitor Monitor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		wallet := q.Get("wallet")
		if wallet == "" {
			wallet = monitor.Status().Wallet
		}
		if wallet == "" {
			writeError(w, "wallet is required when no wallet is being monitored", http.StatusBadRequest)
			return
		}
		if _, err := poller.ParseWallet(wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		days, err := summary.ParsePeriod(q.Get("period"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		var since time.Time
		if days > 0 {
			since = time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		}

		limit := defaultArchiveLimit
		if v := q.Get("limit"); v != "" {
			limit, err = strconv.Atoi(v)
			if err != nil || limit < 1 || limit > maxArchiveLimit {
				writeError(w, "invalid limit: must be between 1 and 1000", http.StatusBadRequest)
				return
			}
		}

		records, err := archive.ListRecordsSince(r.Context(), wallet, since, int32(limit))
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list archived records", "wallet", wallet, "error", err)
			writeError(w, "failed to list archived records", http.StatusInternalServerError)
			return
		}
		total, err := archive.CountRecords(r.Context(), wallet)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count archived records", "wallet", wallet, "error", err)
			writeError(w, "failed to count archived records", http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []*solana.Record{}
		}

		writeJSON(w, transactionsResponse{
			Wallet:       wallet,
			Days:         days,
			Period:       summary.PeriodLabel(days),
			Count:        len(records),
			Total:        &total,
			Transactions: records,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
