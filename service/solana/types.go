package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// Classification describes what kind of balance change a transaction caused
// for the monitored wallet.
type Classification string

const (
	ClassificationSOLTransfer   Classification = "sol_transfer"
	ClassificationTokenTransfer Classification = "token_transfer"
	ClassificationUnknown       Classification = "unknown"
)

// Record represents a parsed Solana transaction.
// This is our domain model, independent of the RPC response format, and it is
// also the persisted journal encoding.
type Record struct {
	Signature      string           `json:"signature"`
	Timestamp      time.Time        `json:"timestamp"`
	Type           Classification   `json:"type"`
	SOLTransfer    *decimal.Decimal `json:"sol_transfer,omitempty"` // nil when the native balance did not change
	TokenTransfers []TokenTransfer  `json:"token_transfers"`
	TotalValueUSD  *decimal.Decimal `json:"total_value_usd,omitempty"` // set by enrichment, never by the parser
}

// TokenTransfer is a single SPL token balance change inside a transaction.
type TokenTransfer struct {
	Mint     string           `json:"mint"`
	Owner    string           `json:"owner"`
	Amount   decimal.Decimal  `json:"amount"`
	ValueUSD *decimal.Decimal `json:"value_usd,omitempty"`
	Symbol   string           `json:"symbol,omitempty"`
}

// Classify derives the classification from the balance deltas.
// Token transfers take precedence over a native delta in the same transaction.
func Classify(r *Record) Classification {
	for _, tt := range r.TokenTransfers {
		if !tt.Amount.IsZero() {
			return ClassificationTokenTransfer
		}
	}
	if r.SOLTransfer != nil && !r.SOLTransfer.IsZero() {
		return ClassificationSOLTransfer
	}
	return ClassificationUnknown
}
