package nats

import (
	"time"

	"github.com/brojonat/walletwatch/service/solana"
	"github.com/shopspring/decimal"
)

// RecordEvent is the payload published for each newly journaled record.
// It is published to the subject "walletwatch.txns.{wallet_address}".
type RecordEvent struct {
	WalletAddress string `json:"wallet_address"`

	Signature      string                 `json:"signature"`
	Timestamp      time.Time              `json:"timestamp"`
	Type           solana.Classification  `json:"type"`
	SOLTransfer    *decimal.Decimal       `json:"sol_transfer,omitempty"`
	TokenTransfers []solana.TokenTransfer `json:"token_transfers"`
	TotalValueUSD  *decimal.Decimal       `json:"total_value_usd,omitempty"`

	// Display is the live-feed rendering of the record.
	Display string `json:"display"`

	PublishedAt time.Time `json:"published_at"`
}

// NewRecordEvent converts a journal record into an event for wallet.
func NewRecordEvent(wallet string, rec *solana.Record) *RecordEvent {
	transfers := rec.TokenTransfers
	if transfers == nil {
		transfers = []solana.TokenTransfer{}
	}
	return &RecordEvent{
		WalletAddress:  wallet,
		Signature:      rec.Signature,
		Timestamp:      rec.Timestamp,
		Type:           rec.Type,
		SOLTransfer:    rec.SOLTransfer,
		TokenTransfers: transfers,
		TotalValueUSD:  rec.TotalValueUSD,
		Display:        solana.FormatRecord(rec),
		PublishedAt:    time.Now().UTC(),
	}
}

// Record returns the journal record carried by the event.
func (e *RecordEvent) Record() *solana.Record {
	return &solana.Record{
		Signature:      e.Signature,
		Timestamp:      e.Timestamp,
		Type:           e.Type,
		SOLTransfer:    e.SOLTransfer,
		TokenTransfers: e.TokenTransfers,
		TotalValueUSD:  e.TotalValueUSD,
	}
}
