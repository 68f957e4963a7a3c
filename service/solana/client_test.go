package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error
	txErrs       []error // returned in order by GetTransaction before falling back to transactions

	sigOpts []*rpc.GetSignaturesForAddressOpts
	txOpts  []*rpc.GetTransactionOpts
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.sigOpts = append(m.sigOpts, opts)
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.txOpts = append(m.txOpts, opts)
	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.transactions == nil {
		return nil, nil
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", metrics.NewMetrics(prometheus.NewRegistry()), logger)
}

func TestRecentSignatures(t *testing.T) {
	ctx := context.Background()
	now := solana.UnixTimeSeconds(time.Now().Unix())

	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: testSig1, Slot: 100, BlockTime: &now},
			{Signature: testSig2, Slot: 99, BlockTime: &now},
		},
	}
	client := newTestClient(mock)

	sigs, err := client.RecentSignatures(ctx, testWallet, 0)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, testSig1, sigs[0].Signature)

	require.Len(t, mock.sigOpts, 1)
	require.NotNil(t, mock.sigOpts[0].Limit)
	assert.Equal(t, DefaultSignatureLimit, *mock.sigOpts[0].Limit)
	assert.Equal(t, rpc.CommitmentConfirmed, mock.sigOpts[0].Commitment)
}

func TestRecentSignatures_Error(t *testing.T) {
	mock := &mockRPCClient{err: assert.AnError}
	client := newTestClient(mock)

	sigs, err := client.RecentSignatures(context.Background(), testWallet, 5)
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, sigs)
	assert.Equal(t, 5, *mock.sigOpts[0].Limit)
}

func TestFetchTransaction(t *testing.T) {
	result := makeResult(t, testSig1, nil)
	mock := &mockRPCClient{
		transactions: map[string]*rpc.GetTransactionResult{testSig1.String(): result},
	}
	client := newTestClient(mock)

	got, err := client.FetchTransaction(context.Background(), testSig1)
	require.NoError(t, err)
	assert.Same(t, result, got)

	require.Len(t, mock.txOpts, 1)
	assert.Equal(t, rpc.CommitmentConfirmed, mock.txOpts[0].Commitment)
	assert.Equal(t, solana.EncodingBase64, mock.txOpts[0].Encoding)
	require.NotNil(t, mock.txOpts[0].MaxSupportedTransactionVersion)
}

func TestFetchTransaction_LegacyFallback(t *testing.T) {
	result := makeResult(t, testSig1, nil)
	mock := &mockRPCClient{
		transactions: map[string]*rpc.GetTransactionResult{testSig1.String(): result},
		txErrs:       []error{errors.New(`expects '"' or 'n', but found '{'`)},
	}
	client := newTestClient(mock)

	got, err := client.FetchTransaction(context.Background(), testSig1)
	require.NoError(t, err)
	assert.Same(t, result, got)

	require.Len(t, mock.txOpts, 2)
	assert.Nil(t, mock.txOpts[1].MaxSupportedTransactionVersion)
	assert.Equal(t, rpc.CommitmentConfirmed, mock.txOpts[1].Commitment)
}

func TestFetchTransaction_Error(t *testing.T) {
	mock := &mockRPCClient{err: assert.AnError}
	client := newTestClient(mock)

	got, err := client.FetchTransaction(context.Background(), testSig1)
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, got)
	assert.Len(t, mock.txOpts, 1, "generic errors are not retried")
}

func TestFetchTransaction_NotFound(t *testing.T) {
	mock := &mockRPCClient{txErrs: []error{rpc.ErrNotFound}}
	client := newTestClient(mock)

	got, err := client.FetchTransaction(context.Background(), testSig1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Len(t, mock.txOpts, 1)
}
