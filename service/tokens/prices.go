package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/shopspring/decimal"
)

// SOLPriceID is the CoinGecko id used to price native SOL deltas.
const SOLPriceID = "solana"

// PriceTracker caches USD prices keyed by CoinGecko id.
type PriceTracker struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewPriceTracker creates a tracker against a CoinGecko-compatible API root
// (e.g. https://api.coingecko.com/api/v3).
func NewPriceTracker(baseURL string, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *PriceTracker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PriceTracker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		prices:     make(map[string]decimal.Decimal),
	}
}

// Update fetches current USD prices for ids in a single request.
// Ids the API does not return keep their previous cached price.
func (p *PriceTracker) Update(ctx context.Context, ids []string) error {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil
	}

	start := time.Now()
	prices, err := p.fetch(ctx, ids)
	if p.metrics != nil {
		p.metrics.RecordLookup("prices", err, time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	for id, price := range prices {
		p.set(id, price)
	}

	p.logger.DebugContext(ctx, "updated prices", "requested", len(ids), "returned", len(prices))
	return nil
}

func (p *PriceTracker) fetch(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("price request failed with status %d: %s", resp.StatusCode, body)
	}

	var payload map[string]struct {
		USD *decimal.Decimal `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(payload))
	for id, entry := range payload {
		if entry.USD != nil {
			out[id] = *entry.USD
		}
	}
	return out, nil
}

// Price returns the cached USD price for id.
func (p *PriceTracker) Price(id string) (decimal.Decimal, bool) {
	if id == "" {
		return decimal.Zero, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[id]
	return price, ok
}

func (p *PriceTracker) set(id string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[id] = price
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
