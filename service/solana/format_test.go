package solana

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatRecord(t *testing.T) {
	sol := decimal.RequireFromString("-0.000005")
	usd := decimal.RequireFromString("12.3456")
	rec := &Record{
		Signature: testSig1.String(),
		Timestamp: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		Type:      ClassificationTokenTransfer,
		TokenTransfers: []TokenTransfer{
			{Mint: usdcMint.String(), Amount: decimal.RequireFromString("1.5"), Symbol: "USDC"},
			{Mint: bonkMint.String(), Amount: decimal.NewFromInt(-20)},
		},
		SOLTransfer:   &sol,
		TotalValueUSD: &usd,
	}

	want := "Time: 2024-03-09 14:05:07\n" +
		"Signature: " + testSig1.String() + "\n" +
		"Type: token_transfer\n" +
		"Token Transfers:\n" +
		"  Amount: 1.5 USDC\n" +
		"  Amount: -20 Unknown\n" +
		"SOL Transfer: -0.000005 SOL\n" +
		"Value (USD): $12.35\n"
	assert.Equal(t, want, FormatRecord(rec))
}

func TestFormatRecord_Minimal(t *testing.T) {
	out := FormatRecord(&Record{Signature: "abc", Timestamp: time.Unix(0, 0)})
	assert.Contains(t, out, "Time: 1970-01-01 00:00:00\n")
	assert.Contains(t, out, "Type: unknown\n")
	assert.Contains(t, out, "Type: unknown\nToken Transfers:\n")
	assert.NotContains(t, out, "Amount:")
	assert.NotContains(t, out, "SOL Transfer")
}
