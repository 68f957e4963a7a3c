package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultSignatureLimit is how many recent signatures one poll asks for.
const DefaultSignatureLimit = 20

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client provides the two fetch operations the poll loop needs.
// Both are issued at the "confirmed" commitment level.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// RecentSignatures returns up to limit of the wallet's most recent signatures,
// newest first.
func (c *Client) RecentSignatures(ctx context.Context, wallet solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	if limit <= 0 {
		limit = DefaultSignatureLimit
	}
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"wallet", wallet.String(),
		"limit", limit,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, wallet, opts)
	c.recordCall("GetSignaturesForAddress", err, time.Since(start))

	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"wallet", wallet.String(),
			"error", err,
		)
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}

	c.logger.DebugContext(ctx, "fetched transaction signatures",
		"wallet", wallet.String(),
		"count", len(signatures),
	)
	return signatures, nil
}

// FetchTransaction fetches the full transaction body for a signature.
// A nil result with a nil error means the node does not serve the transaction yet.
func (c *Client) FetchTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &[]uint64{0}[0],
	}

	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, signature, opts)
	c.recordCall("GetTransaction", err, time.Since(start))

	// Some nodes reject the versioned options for legacy transactions.
	if err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
		c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
			"signature", signature.String(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
		}

		legacyOpts := &rpc.GetTransactionOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: rpc.CommitmentConfirmed,
		}
		start = time.Now()
		result, err = c.rpc.GetTransaction(ctx, signature, legacyOpts)
		c.recordCall("GetTransaction", err, time.Since(start))
	}

	if errors.Is(err, rpc.ErrNotFound) {
		c.logger.DebugContext(ctx, "transaction not found", "signature", signature.String())
		return nil, nil
	}
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get transaction",
			"signature", signature.String(),
			"error", err,
		)
		return nil, err
	}
	return result, nil
}

func (c *Client) recordCall(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, d.Seconds())
}
