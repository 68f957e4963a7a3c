package tokens

import (
	"context"
	"log/slog"

	"github.com/brojonat/walletwatch/service/solana"
	"github.com/shopspring/decimal"
)

// Enricher fills in token symbols and USD values on parsed records.
type Enricher struct {
	registry *Registry
	prices   *PriceTracker
	logger   *slog.Logger
}

// NewEnricher creates an Enricher. prices may be nil, in which case only
// symbols are resolved.
func NewEnricher(registry *Registry, prices *PriceTracker, logger *slog.Logger) *Enricher {
	return &Enricher{registry: registry, prices: prices, logger: logger}
}

// Enrich updates records in place. Prices for every mint in the batch are
// refreshed in one request first; a failed refresh falls back to cached prices.
//
// A record's total USD value is the sum of the absolute token values plus the
// absolute SOL delta at the SOL price. It is only set when at least one of
// those prices is known.
func (e *Enricher) Enrich(ctx context.Context, records []*solana.Record) {
	if len(records) == 0 {
		return
	}

	if e.prices != nil {
		ids := e.priceIDs(records)
		if err := e.prices.Update(ctx, ids); err != nil {
			e.logger.WarnContext(ctx, "failed to update prices, using cached values",
				"ids", len(ids),
				"error", err,
			)
		}
	}

	for _, rec := range records {
		e.enrichRecord(rec)
	}
}

func (e *Enricher) priceIDs(records []*solana.Record) []string {
	var ids []string
	for _, rec := range records {
		if rec.SOLTransfer != nil {
			ids = append(ids, SOLPriceID)
		}
		for _, tt := range rec.TokenTransfers {
			if id := e.registry.Lookup(tt.Mint).CoingeckoID; id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (e *Enricher) enrichRecord(rec *solana.Record) {
	total := decimal.Zero
	priced := false

	for i := range rec.TokenTransfers {
		tt := &rec.TokenTransfers[i]
		meta := e.registry.Lookup(tt.Mint)
		if meta.Symbol != "" {
			tt.Symbol = meta.Symbol
		}
		price, ok := e.price(meta.CoingeckoID)
		if !ok {
			continue
		}
		value := tt.Amount.Mul(price)
		tt.ValueUSD = &value
		total = total.Add(value.Abs())
		priced = true
	}

	if rec.SOLTransfer != nil {
		if price, ok := e.price(SOLPriceID); ok {
			total = total.Add(rec.SOLTransfer.Abs().Mul(price))
			priced = true
		}
	}

	if priced {
		rec.TotalValueUSD = &total
	}
}

func (e *Enricher) price(id string) (decimal.Decimal, bool) {
	if e.prices == nil {
		return decimal.Zero, false
	}
	return e.prices.Price(id)
}
