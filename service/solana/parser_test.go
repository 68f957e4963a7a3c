package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSig1   = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	testSig2   = solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
	testWallet = solana.MustPublicKeyFromBase58("DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	testOther  = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	usdcMint   = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	bonkMint   = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
)

// makeEnvelope builds a TransactionResultEnvelope the same way the RPC hands it
// back for base64 encoding. The envelope has unexported fields, so it has to go
// through JSON.
func makeEnvelope(t *testing.T, sig solana.Signature) *rpc.TransactionResultEnvelope {
	t.Helper()

	tx := &solana.Transaction{
		Signatures: []solana.Signature{sig},
		Message: solana.Message{
			Header:      solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solana.PublicKey{testWallet},
		},
	}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"transaction":[%q,"base64"]}`, base64.StdEncoding.EncodeToString(raw))
	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal([]byte(payload), &result))
	require.NotNil(t, result.Transaction)
	return result.Transaction
}

func makeResult(t *testing.T, sig solana.Signature, meta *rpc.TransactionMeta) *rpc.GetTransactionResult {
	t.Helper()
	bt := solana.UnixTimeSeconds(1700000000)
	return &rpc.GetTransactionResult{
		Slot:        100,
		BlockTime:   &bt,
		Transaction: makeEnvelope(t, sig),
		Meta:        meta,
	}
}

func tokenBalance(owner *solana.PublicKey, mint solana.PublicKey, ui string) rpc.TokenBalance {
	return rpc.TokenBalance{
		Owner:         owner,
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{UiAmountString: ui},
	}
}

func TestParseTransaction_SOLTransfer(t *testing.T) {
	result := makeResult(t, testSig1, &rpc.TransactionMeta{
		PreBalances:  []uint64{5_000_000_000, 1},
		PostBalances: []uint64{3_999_995_000, 1_000_000_001},
	})

	rec, err := ParseTransaction(result, result.BlockTime)
	require.NoError(t, err)

	assert.Equal(t, testSig1.String(), rec.Signature)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), rec.Timestamp)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	require.NotNil(t, rec.SOLTransfer)
	assert.True(t, decimal.RequireFromString("-1.000005").Equal(*rec.SOLTransfer), "got %s", rec.SOLTransfer)
	assert.Empty(t, rec.TokenTransfers)
	assert.Equal(t, ClassificationSOLTransfer, rec.Type)
}

func TestParseTransaction_NativeDeltaMatchesLamports(t *testing.T) {
	cases := []struct {
		pre, post uint64
	}{
		{pre: 0, post: 1},
		{pre: 1, post: 0},
		{pre: 123_456_789_012, post: 123_456_789_013},
		{pre: 10_000_000_000, post: 2_500_000_000},
		{pre: 42, post: 42},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d->%d", tc.pre, tc.post), func(t *testing.T) {
			result := makeResult(t, testSig1, &rpc.TransactionMeta{
				PreBalances:  []uint64{tc.pre},
				PostBalances: []uint64{tc.post},
			})
			rec, err := ParseTransaction(result, result.BlockTime)
			require.NoError(t, err)

			want := decimal.NewFromInt(int64(tc.post) - int64(tc.pre)).Shift(-9)
			if want.IsZero() {
				assert.Nil(t, rec.SOLTransfer)
				assert.Equal(t, ClassificationUnknown, rec.Type)
				return
			}
			require.NotNil(t, rec.SOLTransfer)
			assert.True(t, want.Equal(*rec.SOLTransfer), "want %s got %s", want, rec.SOLTransfer)
		})
	}
}

func TestParseTransaction_TokenTransfer(t *testing.T) {
	result := makeResult(t, testSig2, &rpc.TransactionMeta{
		PreBalances:  []uint64{2_000_000_000},
		PostBalances: []uint64{1_999_995_000},
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(&testWallet, usdcMint, "10.5"),
			tokenBalance(&testOther, usdcMint, "0"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(&testWallet, usdcMint, "8.25"),
			tokenBalance(&testOther, usdcMint, "2.25"),
		},
	})

	rec, err := ParseTransaction(result, result.BlockTime)
	require.NoError(t, err)

	require.Len(t, rec.TokenTransfers, 2)
	assert.Equal(t, usdcMint.String(), rec.TokenTransfers[0].Mint)
	assert.Equal(t, testWallet.String(), rec.TokenTransfers[0].Owner)
	assert.True(t, decimal.RequireFromString("-2.25").Equal(rec.TokenTransfers[0].Amount))
	assert.Equal(t, testOther.String(), rec.TokenTransfers[1].Owner)
	assert.True(t, decimal.RequireFromString("2.25").Equal(rec.TokenTransfers[1].Amount))
	assert.Empty(t, rec.TokenTransfers[0].Symbol, "parser never sets symbols")
	assert.Nil(t, rec.TokenTransfers[0].ValueUSD)

	// The fee also moved native balance, but token classification wins.
	require.NotNil(t, rec.SOLTransfer)
	assert.Equal(t, ClassificationTokenTransfer, rec.Type)
}

func TestParseTransaction_OwnerMismatchSkipped(t *testing.T) {
	result := makeResult(t, testSig1, &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			tokenBalance(&testWallet, usdcMint, "1"),
			tokenBalance(&testWallet, bonkMint, "100"),
		},
		PostTokenBalances: []rpc.TokenBalance{
			tokenBalance(&testOther, usdcMint, "5"),
			tokenBalance(&testWallet, bonkMint, "40"),
		},
	})

	rec, err := ParseTransaction(result, result.BlockTime)
	require.NoError(t, err)

	require.Len(t, rec.TokenTransfers, 1)
	assert.Equal(t, bonkMint.String(), rec.TokenTransfers[0].Mint)
	assert.True(t, decimal.NewFromInt(-60).Equal(rec.TokenTransfers[0].Amount))
}

func TestParseTransaction_UIAmountFallbacks(t *testing.T) {
	f := 3.5
	result := makeResult(t, testSig1, &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{Owner: &testWallet, Mint: usdcMint, UiTokenAmount: &rpc.UiTokenAmount{}},
			{Owner: &testWallet, Mint: bonkMint, UiTokenAmount: nil},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{Owner: &testWallet, Mint: usdcMint, UiTokenAmount: &rpc.UiTokenAmount{UiAmount: &f}},
			{Owner: &testWallet, Mint: bonkMint, UiTokenAmount: nil},
		},
	})

	rec, err := ParseTransaction(result, result.BlockTime)
	require.NoError(t, err)

	require.Len(t, rec.TokenTransfers, 1)
	assert.True(t, decimal.RequireFromString("3.5").Equal(rec.TokenTransfers[0].Amount))
}

func TestParseTransaction_NilOwnersMatch(t *testing.T) {
	result := makeResult(t, testSig1, &rpc.TransactionMeta{
		PreTokenBalances:  []rpc.TokenBalance{tokenBalance(nil, usdcMint, "1")},
		PostTokenBalances: []rpc.TokenBalance{tokenBalance(nil, usdcMint, "2")},
	})

	rec, err := ParseTransaction(result, result.BlockTime)
	require.NoError(t, err)
	require.Len(t, rec.TokenTransfers, 1)
	assert.Equal(t, "", rec.TokenTransfers[0].Owner)
}

func TestParseTransaction_EmptyInputs(t *testing.T) {
	t.Run("empty balances", func(t *testing.T) {
		result := makeResult(t, testSig1, &rpc.TransactionMeta{
			PreBalances:      []uint64{},
			PostBalances:     []uint64{10},
			PreTokenBalances: []rpc.TokenBalance{tokenBalance(&testWallet, usdcMint, "1")},
		})
		rec, err := ParseTransaction(result, result.BlockTime)
		require.NoError(t, err)
		assert.Nil(t, rec.SOLTransfer)
		assert.Empty(t, rec.TokenTransfers)
		assert.Equal(t, ClassificationUnknown, rec.Type)
	})

	t.Run("nil meta", func(t *testing.T) {
		result := makeResult(t, testSig1, nil)
		rec, err := ParseTransaction(result, result.BlockTime)
		require.NoError(t, err)
		assert.Equal(t, ClassificationUnknown, rec.Type)
		assert.NotNil(t, rec.TokenTransfers)
	})
}

func TestParseTransaction_Failures(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		bt := solana.UnixTimeSeconds(1)
		_, err := ParseTransaction(nil, &bt)
		require.ErrorIs(t, err, ErrParse)
	})

	t.Run("missing block time", func(t *testing.T) {
		result := makeResult(t, testSig1, nil)
		_, err := ParseTransaction(result, nil)
		require.ErrorIs(t, err, ErrParse)
		assert.Contains(t, err.Error(), "block time")
	})

	t.Run("missing envelope", func(t *testing.T) {
		bt := solana.UnixTimeSeconds(1)
		_, err := ParseTransaction(&rpc.GetTransactionResult{BlockTime: &bt}, &bt)
		require.ErrorIs(t, err, ErrParse)
	})
}

func TestClassify(t *testing.T) {
	one := decimal.NewFromInt(1)
	zero := decimal.Zero

	assert.Equal(t, ClassificationUnknown, Classify(&Record{}))
	assert.Equal(t, ClassificationUnknown, Classify(&Record{SOLTransfer: &zero}))
	assert.Equal(t, ClassificationSOLTransfer, Classify(&Record{SOLTransfer: &one}))
	assert.Equal(t, ClassificationTokenTransfer, Classify(&Record{
		SOLTransfer:    &one,
		TokenTransfers: []TokenTransfer{{Amount: one}},
	}))
	assert.Equal(t, ClassificationSOLTransfer, Classify(&Record{
		SOLTransfer:    &one,
		TokenTransfers: []TokenTransfer{{Amount: zero}},
	}))
}
