package solana

import (
	"fmt"
	"strings"
)

// DisplayTimeFormat is the layout used in live-feed display strings.
const DisplayTimeFormat = "2006-01-02 15:04:05"

// FormatRecord renders a record as the multi-line string shown in the live feed.
func FormatRecord(r *Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %s\n", r.Timestamp.UTC().Format(DisplayTimeFormat))
	fmt.Fprintf(&b, "Signature: %s\n", r.Signature)
	typ := r.Type
	if typ == "" {
		typ = ClassificationUnknown
	}
	fmt.Fprintf(&b, "Type: %s\n", typ)

	b.WriteString("Token Transfers:\n")
	for _, tt := range r.TokenTransfers {
		symbol := tt.Symbol
		if symbol == "" {
			symbol = "Unknown"
		}
		fmt.Fprintf(&b, "  Amount: %s %s\n", tt.Amount.String(), symbol)
	}

	if r.SOLTransfer != nil {
		fmt.Fprintf(&b, "SOL Transfer: %s SOL\n", r.SOLTransfer.String())
	}
	if r.TotalValueUSD != nil {
		fmt.Fprintf(&b, "Value (USD): $%s\n", r.TotalValueUSD.StringFixed(2))
	}
	return b.String()
}
