// Package tokens resolves SPL mint metadata and USD prices and uses them to
// enrich parsed records with symbols and values.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
)

// DefaultDecimals is assumed for mints missing from the token list.
const DefaultDecimals = 9

// Well-known mints that are always resolvable, even if the list fails to load.
const (
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint       = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// TokenMetadata describes one SPL mint.
type TokenMetadata struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	CoingeckoID string `json:"coingecko_id"`
}

// listEntry is one element of a Jupiter-style token list. The CoinGecko id
// appears at the top level in older lists and under extensions in newer ones.
type listEntry struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    *int   `json:"decimals"`
	CoingeckoID string `json:"coingeckoId"`
	Extensions  struct {
		CoingeckoID string `json:"coingeckoId"`
	} `json:"extensions"`
}

// Registry maps mint addresses to metadata.
type Registry struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu     sync.RWMutex
	tokens map[string]TokenMetadata
}

// NewRegistry creates a registry seeded with the well-known mints.
func NewRegistry(httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	r := &Registry{
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
		tokens:     make(map[string]TokenMetadata),
	}
	for _, meta := range []TokenMetadata{
		{Address: WrappedSOLMint, Name: "Wrapped SOL", Symbol: "SOL", Decimals: 9, CoingeckoID: SOLPriceID},
		{Address: USDCMint, Name: "USD Coin", Symbol: "USDC", Decimals: 6, CoingeckoID: "usd-coin"},
		{Address: USDTMint, Name: "USDT", Symbol: "USDT", Decimals: 6, CoingeckoID: "tether"},
	} {
		r.Add(meta)
	}
	return r
}

// Load fetches a token list from url and merges it into the registry.
func (r *Registry) Load(ctx context.Context, url string) error {
	start := time.Now()
	err := r.load(ctx, url)
	if r.metrics != nil {
		r.metrics.RecordLookup("token_list", err, time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "loaded token list", "url", url, "tokens", r.Len())
	return nil
}

func (r *Registry) load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("token list request failed with status %d: %s", resp.StatusCode, body)
	}

	return r.Decode(resp.Body)
}

// Decode merges a JSON token list read from rd. Entries without an address are skipped.
func (r *Registry) Decode(rd io.Reader) error {
	var entries []listEntry
	if err := json.NewDecoder(rd).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode token list: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.Address == "" {
			continue
		}
		meta := TokenMetadata{
			Address:     e.Address,
			Name:        e.Name,
			Symbol:      e.Symbol,
			Decimals:    DefaultDecimals,
			CoingeckoID: e.CoingeckoID,
		}
		if e.Decimals != nil {
			meta.Decimals = *e.Decimals
		}
		if meta.CoingeckoID == "" {
			meta.CoingeckoID = e.Extensions.CoingeckoID
		}
		r.tokens[e.Address] = meta
	}
	return nil
}

// Add registers or replaces metadata for a single mint.
func (r *Registry) Add(meta TokenMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[meta.Address] = meta
}

// Lookup returns the metadata for mint. Unknown mints yield an entry with
// only the address and DefaultDecimals set.
func (r *Registry) Lookup(mint string) TokenMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if meta, ok := r.tokens[mint]; ok {
		return meta
	}
	return TokenMetadata{Address: mint, Decimals: DefaultDecimals}
}

// Len returns the number of known mints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
