package solana

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// LamportsPerSOLExponent is the fixed decimal scale between lamports and SOL.
const LamportsPerSOLExponent = 9

// ErrParse marks a transaction payload that could not be turned into a Record.
var ErrParse = errors.New("failed to parse transaction")

// ParseTransaction converts a GetTransaction result into a Record.
// The block time is passed separately because the signature list and the
// transaction body both carry it and callers may prefer either.
func ParseTransaction(result *rpc.GetTransactionResult, blockTime *solana.UnixTimeSeconds) (rec *Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("%w: empty transaction result", ErrParse)
	}
	if blockTime == nil {
		return nil, fmt.Errorf("%w: missing block time", ErrParse)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %w", ErrParse, err)
	}
	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("%w: transaction has no signatures", ErrParse)
	}

	rec = &Record{
		Signature:      tx.Signatures[0].String(),
		Timestamp:      blockTime.Time().UTC(),
		TokenTransfers: []TokenTransfer{},
	}

	if meta := result.Meta; meta != nil {
		// Native SOL: index 0 is the fee payer, which is the monitored wallet
		// for anything it signed.
		if len(meta.PreBalances) > 0 && len(meta.PostBalances) > 0 {
			delta := lamportsToSOL(meta.PostBalances[0]).Sub(lamportsToSOL(meta.PreBalances[0]))
			if !delta.IsZero() {
				rec.SOLTransfer = &delta
			}
		}

		if len(meta.PreTokenBalances) > 0 && len(meta.PostTokenBalances) > 0 {
			n := min(len(meta.PreTokenBalances), len(meta.PostTokenBalances))
			for i := 0; i < n; i++ {
				pre, post := meta.PreTokenBalances[i], meta.PostTokenBalances[i]
				if !sameOwner(pre.Owner, post.Owner) {
					continue
				}
				delta := uiAmount(post.UiTokenAmount).Sub(uiAmount(pre.UiTokenAmount))
				if delta.IsZero() {
					continue
				}
				rec.TokenTransfers = append(rec.TokenTransfers, TokenTransfer{
					Mint:   pre.Mint.String(),
					Owner:  ownerString(pre.Owner),
					Amount: delta,
				})
			}
		}
	}

	rec.Type = Classify(rec)
	return rec, nil
}

func lamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -LamportsPerSOLExponent)
}

// uiAmount returns the scaled token balance, treating a missing amount as zero.
// The exact string form is preferred over the float.
func uiAmount(amt *rpc.UiTokenAmount) decimal.Decimal {
	if amt == nil {
		return decimal.Zero
	}
	if s := strings.TrimSpace(amt.UiAmountString); s != "" {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	if amt.UiAmount != nil {
		return decimal.NewFromFloat(*amt.UiAmount)
	}
	return decimal.Zero
}

func sameOwner(a, b *solana.PublicKey) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(*b)
}

func ownerString(owner *solana.PublicKey) string {
	if owner == nil {
		return ""
	}
	return owner.String()
}
