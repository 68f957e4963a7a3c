// Package summary aggregates journal records over a trailing period.
package summary

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brojonat/walletwatch/service/solana"
	"github.com/shopspring/decimal"
)

// UnknownSymbol buckets token transfers that were never enriched with a symbol.
const UnknownSymbol = "Unknown"

// Periods are the trailing windows offered to users, in days. 0 means all time.
var Periods = []int{1, 7, 30, 90, 0}

// TokenTotals is the per-symbol activity over the period.
type TokenTotals struct {
	TotalIn   decimal.Decimal `json:"total_in"`
	TotalOut  decimal.Decimal `json:"total_out"`
	VolumeUSD decimal.Decimal `json:"volume_usd"`
}

// NativeTotals is the SOL activity over the period.
type NativeTotals struct {
	TotalIn  decimal.Decimal `json:"total_in"`
	TotalOut decimal.Decimal `json:"total_out"`
}

// Summary is the aggregate view of the records in a period.
type Summary struct {
	Days              int                           `json:"days"`
	TotalTransactions int                           `json:"total_transactions"`
	TotalVolumeUSD    decimal.Decimal               `json:"total_volume_usd"`
	Tokens            map[string]*TokenTotals       `json:"tokens"`
	TransactionTypes  map[solana.Classification]int `json:"transaction_types"`
	Native            NativeTotals                  `json:"native"`
}

// Source is the read side of the journal.
type Source interface {
	Query(days int) []*solana.Record
}

// Aggregator computes summaries over a record source.
type Aggregator struct {
	source Source
}

// NewAggregator creates an Aggregator reading from source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Summarize aggregates the records from the last days days (days <= 0 is all time).
func (a *Aggregator) Summarize(days int) *Summary {
	return Compute(a.source.Query(days), days)
}

// Compute aggregates an already filtered record slice.
// Positive deltas count as received and negative deltas as sent, by magnitude.
func Compute(records []*solana.Record, days int) *Summary {
	if days < 0 {
		days = 0
	}
	s := &Summary{
		Days:              days,
		TotalTransactions: len(records),
		Tokens:            make(map[string]*TokenTotals),
		TransactionTypes:  make(map[solana.Classification]int),
	}

	for _, rec := range records {
		if rec.TotalValueUSD != nil {
			s.TotalVolumeUSD = s.TotalVolumeUSD.Add(*rec.TotalValueUSD)
		}

		for _, tt := range rec.TokenTransfers {
			symbol := tt.Symbol
			if symbol == "" {
				symbol = UnknownSymbol
			}
			totals, ok := s.Tokens[symbol]
			if !ok {
				totals = &TokenTotals{}
				s.Tokens[symbol] = totals
			}
			if tt.Amount.IsPositive() {
				totals.TotalIn = totals.TotalIn.Add(tt.Amount)
			} else {
				totals.TotalOut = totals.TotalOut.Add(tt.Amount.Abs())
			}
			if tt.ValueUSD != nil {
				totals.VolumeUSD = totals.VolumeUSD.Add(tt.ValueUSD.Abs())
			}
		}

		if rec.SOLTransfer != nil {
			if rec.SOLTransfer.IsPositive() {
				s.Native.TotalIn = s.Native.TotalIn.Add(*rec.SOLTransfer)
			} else {
				s.Native.TotalOut = s.Native.TotalOut.Add(rec.SOLTransfer.Abs())
			}
		}

		typ := rec.Type
		if typ == "" {
			typ = solana.ClassificationUnknown
		}
		s.TransactionTypes[typ]++
	}
	return s
}

// ParsePeriod turns a period choice ("1", "7", "30", "90", "all") into days.
// The empty string and "all" both mean all time (0).
func ParsePeriod(value string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimSuffix(v, "d")
	if v == "" || v == "all" {
		return 0, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q: must be one of 1, 7, 30, 90, all", value)
	}
	for _, p := range Periods {
		if p == days {
			return days, nil
		}
	}
	return 0, fmt.Errorf("invalid period %q: must be one of 1, 7, 30, 90, all", value)
}

// PeriodLabel renders days the way the summary header names it.
func PeriodLabel(days int) string {
	switch {
	case days <= 0:
		return "All Time"
	case days == 1:
		return "1 Day"
	default:
		return fmt.Sprintf("%d Days", days)
	}
}

// FormatSummary renders the historical summary text view.
func FormatSummary(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Transaction Summary (Last %s) ===\n\n", PeriodLabel(s.Days))
	if s.TotalTransactions == 0 {
		b.WriteString("No transactions found for the selected period.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Total Transactions: %d\n", s.TotalTransactions)
	fmt.Fprintf(&b, "Total Volume (USD): $%s\n\n", s.TotalVolumeUSD.StringFixed(2))

	b.WriteString("=== SOL Activity ===\n")
	fmt.Fprintf(&b, "  Total Received: %s\n", s.Native.TotalIn.StringFixed(4))
	fmt.Fprintf(&b, "  Total Sent: %s\n", s.Native.TotalOut.StringFixed(4))

	b.WriteString("\n=== Token Activity ===\n")
	for _, symbol := range sortedKeys(s.Tokens) {
		data := s.Tokens[symbol]
		fmt.Fprintf(&b, "\n%s:\n", symbol)
		fmt.Fprintf(&b, "  Total Received: %s\n", data.TotalIn.StringFixed(4))
		fmt.Fprintf(&b, "  Total Sent: %s\n", data.TotalOut.StringFixed(4))
		fmt.Fprintf(&b, "  Volume (USD): $%s\n", data.VolumeUSD.StringFixed(2))
	}

	b.WriteString("\n=== Transaction Types ===\n")
	types := make([]string, 0, len(s.TransactionTypes))
	for typ := range s.TransactionTypes {
		types = append(types, string(typ))
	}
	sort.Strings(types)
	for _, typ := range types {
		fmt.Fprintf(&b, "%s: %d\n", typ, s.TransactionTypes[solana.Classification(typ)])
	}
	return b.String()
}

func sortedKeys(m map[string]*TokenTotals) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
