package poller

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/walletwatch/service/journal"
	"github.com/brojonat/walletwatch/service/metrics"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	walletA = solanago.MustPublicKeyFromBase58("DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	walletB = solanago.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSignature(n byte) solanago.Signature {
	var sig solanago.Signature
	sig[0] = n
	sig[63] = 0xff
	return sig
}

// makeResult builds a GetTransactionResult through JSON, the way the RPC
// client decodes a base64-encoded transaction.
func makeResult(t *testing.T, sig solanago.Signature, preLamports, postLamports uint64) *rpc.GetTransactionResult {
	t.Helper()

	tx := &solanago.Transaction{
		Signatures: []solanago.Signature{sig},
		Message: solanago.Message{
			Header:      solanago.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys: []solanago.PublicKey{walletA},
		},
	}
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"slot": 100, "blockTime": 1700000000, "transaction": [%q, "base64"], "meta": {"fee": 5000, "preBalances": [%d], "postBalances": [%d], "preTokenBalances": [], "postTokenBalances": []}}`,
		base64.StdEncoding.EncodeToString(raw), preLamports, postLamports)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal([]byte(payload), &result))
	return &result
}

type fakeSource struct {
	mu       sync.Mutex
	sigs     map[solanago.PublicKey][]*rpc.TransactionSignature
	sigErr   error
	txs      map[solanago.Signature]*rpc.GetTransactionResult
	txErrs   map[solanago.Signature]error
	sigCalls map[solanago.PublicKey]int
	txCalls  int
	onFetch  func()
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sigs:     make(map[solanago.PublicKey][]*rpc.TransactionSignature),
		txs:      make(map[solanago.Signature]*rpc.GetTransactionResult),
		txErrs:   make(map[solanago.Signature]error),
		sigCalls: make(map[solanago.PublicKey]int),
	}
}

func (f *fakeSource) add(wallet solanago.PublicKey, sig solanago.Signature, result *rpc.GetTransactionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigs[wallet] = append(f.sigs[wallet], &rpc.TransactionSignature{Signature: sig})
	f.txs[sig] = result
}

func (f *fakeSource) RecentSignatures(ctx context.Context, wallet solanago.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigCalls[wallet]++
	if f.sigErr != nil {
		return nil, f.sigErr
	}
	sigs := f.sigs[wallet]
	if len(sigs) > limit {
		sigs = sigs[:limit]
	}
	return sigs, nil
}

func (f *fakeSource) FetchTransaction(ctx context.Context, sig solanago.Signature) (*rpc.GetTransactionResult, error) {
	f.mu.Lock()
	f.txCalls++
	hook := f.onFetch
	result, err := f.txs[sig], f.txErrs[sig]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, err
}

func (f *fakeSource) calls(wallet solanago.PublicKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sigCalls[wallet]
}

func (f *fakeSource) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txCalls
}

type messages struct {
	mu   sync.Mutex
	list []string
}

func (m *messages) notify(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, msg)
}

func (m *messages) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.list...)
}

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]*solana.Record
	err     error
}

func (a *fakeArchiver) UpsertRecords(ctx context.Context, wallet string, records []*solana.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, records)
	return a.err
}

type symbolEnricher struct{}

func (symbolEnricher) Enrich(ctx context.Context, records []*solana.Record) {
	for _, rec := range records {
		usd := decimal.NewFromInt(42)
		rec.TotalValueUSD = &usd
	}
}

func newTestPoller(t *testing.T, src *fakeSource, cfg Config, opts ...Option) (*Poller, *journal.Journal) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	j := journal.Open(filepath.Join(t.TempDir(), "journal.json"), testLogger(), m)
	return New(src, j, cfg, testLogger(), m, opts...), j
}

func TestStart_InvalidWallet(t *testing.T) {
	src := newFakeSource()
	msgs := &messages{}
	p, _ := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	for _, bad := range []string{"", "not-a-wallet", "0OIl"} {
		err := p.Start(bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidWallet)
	}

	assert.False(t, p.Status().Running)
	assert.Len(t, msgs.all(), 3)
	assert.True(t, strings.HasPrefix(msgs.all()[0], "Error: Could not start monitoring"))

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, src.calls(solanago.PublicKey{}))
	assert.Zero(t, src.fetches())
}

func TestRunCycle_AppendsAndNotifiesEachRecord(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, makeResult(t, sig1, 2_000_000_000, 1_000_000_000))
	src.add(walletA, sig2, makeResult(t, sig2, 1_000_000_000, 1_500_000_000))

	msgs := &messages{}
	p, j := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	result := p.RunCycle(ctx, walletA)
	require.NoError(t, result.Err)
	assert.Equal(t, OutcomeAppended, result.Outcome)
	require.Len(t, result.Fresh, 2)
	assert.Equal(t, sig1.String(), result.Fresh[0].Signature)
	assert.Equal(t, sig2.String(), result.Fresh[1].Signature)
	assert.True(t, result.Fresh[0].SOLTransfer.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, 2, j.Len())

	got := msgs.all()
	require.Len(t, got, 2)
	assert.Equal(t, solana.FormatRecord(result.Fresh[0]), got[0])
	assert.Contains(t, got[1], "SOL Transfer: 0.5 SOL")

	// Replaying the same signatures appends nothing but still notifies per record.
	result = p.RunCycle(ctx, walletA)
	assert.Equal(t, OutcomeNoNewTransactions, result.Outcome)
	assert.Len(t, result.Records, 2)
	assert.Empty(t, result.Fresh)
	assert.Equal(t, 2, j.Len())

	got = msgs.all()
	require.Len(t, got, 4)
	assert.Equal(t, solana.FormatRecord(result.Records[0]), got[2])
	assert.Equal(t, solana.FormatRecord(result.Records[1]), got[3])
}

func TestRunCycle_SkipKnownSignaturesSilencesReplays(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	sig1 := testSignature(1)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))

	cfg := DefaultConfig()
	cfg.SkipKnownSignatures = true
	msgs := &messages{}
	p, _ := newTestPoller(t, src, cfg, WithNotifier(msgs.notify))

	p.RunCycle(ctx, walletA)
	require.Len(t, msgs.all(), 1)

	result := p.RunCycle(ctx, walletA)
	assert.Empty(t, result.Records)
	assert.Len(t, msgs.all(), 1)
}

func TestRunCycle_NoSignatures(t *testing.T) {
	p, j := newTestPoller(t, newFakeSource(), DefaultConfig())

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, OutcomeNoNewTransactions, result.Outcome)
	assert.Equal(t, 0, j.Len())
}

func TestRunCycle_SignatureFetchFailure(t *testing.T) {
	src := newFakeSource()
	src.sigErr = errors.New("rpc unavailable")
	msgs := &messages{}
	p, _ := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, OutcomeFetchFailed, result.Outcome)
	assert.EqualError(t, result.Err, "rpc unavailable")
	assert.Equal(t, []string{"Error: rpc unavailable"}, msgs.all())
	assert.Zero(t, src.fetches())
}

func TestRunCycle_TransactionFetchFailureSkipsSignature(t *testing.T) {
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, nil)
	src.txErrs[sig1] = errors.New("node timeout")
	src.add(walletA, sig2, makeResult(t, sig2, 10, 20))

	msgs := &messages{}
	p, j := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, OutcomeAppended, result.Outcome)
	assert.Equal(t, 1, result.FetchFailures)
	require.Len(t, result.Fresh, 1)
	assert.Equal(t, sig2.String(), result.Fresh[0].Signature)
	assert.False(t, j.Has(sig1.String()))

	got := msgs.all()
	require.Len(t, got, 2)
	assert.Equal(t, "Error: node timeout", got[0])
	assert.Contains(t, got[1], sig2.String())
}

func TestRunCycle_ParseFailureDroppedSilently(t *testing.T) {
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, &rpc.GetTransactionResult{}) // no envelope
	src.add(walletA, sig2, makeResult(t, sig2, 10, 20))

	msgs := &messages{}
	p, _ := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, 1, result.ParseFailures)
	assert.Len(t, result.Fresh, 1)
	assert.Len(t, msgs.all(), 1)
}

// notServedRPC lists signatures whose bodies the node does not serve yet.
type notServedRPC struct {
	sigs []*rpc.TransactionSignature
}

func (n *notServedRPC) GetSignaturesForAddress(ctx context.Context, address solanago.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return n.sigs, nil
}

func (n *notServedRPC) GetTransaction(ctx context.Context, signature solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, rpc.ErrNotFound
}

func TestRunCycle_MissingTransactionSkipped(t *testing.T) {
	src := &notServedRPC{sigs: []*rpc.TransactionSignature{{Signature: testSignature(1)}}}
	client := solana.NewClient(src, "test", nil, testLogger())
	j := journal.Open(filepath.Join(t.TempDir(), "journal.json"), testLogger(), nil)
	msgs := &messages{}
	p := New(client, j, DefaultConfig(), testLogger(), nil, WithNotifier(msgs.notify))

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, OutcomeNoNewTransactions, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Zero(t, result.FetchFailures)
	assert.Zero(t, result.ParseFailures)
	assert.Empty(t, msgs.all())
	assert.Equal(t, 0, j.Len())
}

func TestRunCycle_BlockTimeFallsBackToSignature(t *testing.T) {
	src := newFakeSource()
	sig1 := testSignature(1)
	result := makeResult(t, sig1, 10, 20)
	result.BlockTime = nil
	bt := solanago.UnixTimeSeconds(1690000000)
	src.sigs[walletA] = []*rpc.TransactionSignature{{Signature: sig1, BlockTime: &bt}}
	src.txs[sig1] = result

	p, _ := newTestPoller(t, src, DefaultConfig())

	cycle := p.RunCycle(context.Background(), walletA)
	require.Len(t, cycle.Fresh, 1)
	assert.Equal(t, time.Unix(1690000000, 0).UTC(), cycle.Fresh[0].Timestamp)
}

func TestRunCycle_SkipKnownSignatures(t *testing.T) {
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))

	cfg := DefaultConfig()
	cfg.SkipKnownSignatures = true
	p, _ := newTestPoller(t, src, cfg)

	p.RunCycle(context.Background(), walletA)
	assert.Equal(t, 1, src.fetches())

	src.add(walletA, sig2, makeResult(t, sig2, 20, 30))
	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, src.fetches(), "only the unseen signature is fetched")
	require.Len(t, result.Fresh, 1)
	assert.Equal(t, sig2.String(), result.Fresh[0].Signature)
}

func TestRunCycle_CancelledMidCycleAppendsNothing(t *testing.T) {
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))
	src.add(walletA, sig2, makeResult(t, sig2, 20, 30))

	ctx, cancel := context.WithCancel(context.Background())
	src.onFetch = cancel

	msgs := &messages{}
	p, j := newTestPoller(t, src, DefaultConfig(), WithNotifier(msgs.notify))

	result := p.RunCycle(ctx, walletA)
	assert.Equal(t, OutcomeCancelled, result.Outcome)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, src.fetches())
	assert.Equal(t, 0, j.Len())
	assert.Empty(t, msgs.all())
}

func TestRunCycle_EnrichPublishArchive(t *testing.T) {
	src := newFakeSource()
	sig1, sig2 := testSignature(1), testSignature(2)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))

	pub := natspkg.NewMockPublisher()
	arch := &fakeArchiver{}
	p, j := newTestPoller(t, src, DefaultConfig(),
		WithEnricher(symbolEnricher{}),
		WithPublisher(pub),
		WithArchiver(arch),
	)

	p.RunCycle(context.Background(), walletA)

	recs := j.Query(0)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].TotalValueUSD)
	assert.True(t, recs[0].TotalValueUSD.Equal(decimal.NewFromInt(42)))

	events := pub.GetPublishedEventsForWallet(walletA.String())
	require.Len(t, events, 1)
	assert.Equal(t, sig1.String(), events[0].Signature)
	require.Len(t, arch.batches, 1)

	// Second cycle: the known record is archived again but not republished.
	src.add(walletA, sig2, makeResult(t, sig2, 20, 30))
	p.RunCycle(context.Background(), walletA)

	assert.Len(t, pub.GetPublishedEvents(), 2)
	require.Len(t, arch.batches, 2)
	assert.Len(t, arch.batches[1], 2)
}

func TestRunCycle_SinkFailuresAreNotFatal(t *testing.T) {
	src := newFakeSource()
	sig1 := testSignature(1)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))

	pub := natspkg.NewMockPublisher()
	pub.SetPublishError(errors.New("nats down"))
	arch := &fakeArchiver{err: errors.New("db down")}
	msgs := &messages{}
	p, j := newTestPoller(t, src, DefaultConfig(), WithPublisher(pub), WithArchiver(arch), WithNotifier(msgs.notify))

	result := p.RunCycle(context.Background(), walletA)
	assert.Equal(t, OutcomeAppended, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, j.Len())
	assert.Len(t, msgs.all(), 1)
}

func TestStop_MidSleepHaltsFetching(t *testing.T) {
	src := newFakeSource()
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	p, _ := newTestPoller(t, src, cfg)

	require.NoError(t, p.Start(walletA.String()))
	require.Eventually(t, func() bool { return src.calls(walletA) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Status().Cycles == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the sleep")
	}

	status := p.Status()
	assert.False(t, status.Running)
	assert.Equal(t, OutcomeNoNewTransactions, status.LastOutcome)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.calls(walletA))

	// Stopping twice is a no-op.
	p.Stop()
}

func TestStart_NewWalletReplacesSession(t *testing.T) {
	src := newFakeSource()
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	p, _ := newTestPoller(t, src, cfg)
	defer p.Stop()

	require.NoError(t, p.Start(walletA.String()))
	require.Eventually(t, func() bool { return src.calls(walletA) >= 2 }, time.Second, time.Millisecond)

	require.NoError(t, p.Start(walletB.String()))
	callsA := src.calls(walletA)

	require.Eventually(t, func() bool { return src.calls(walletB) >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, callsA, src.calls(walletA), "old wallet is no longer polled")

	status := p.Status()
	assert.True(t, status.Running)
	assert.Equal(t, walletB.String(), status.Wallet)
}

func TestStart_PollsRepeatedlyUntilStopped(t *testing.T) {
	src := newFakeSource()
	sig1 := testSignature(1)
	src.add(walletA, sig1, makeResult(t, sig1, 10, 20))

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	msgs := &messages{}
	p, j := newTestPoller(t, src, cfg, WithNotifier(msgs.notify))

	require.NoError(t, p.Start("  " + walletA.String() + "  "))
	require.Eventually(t, func() bool { return p.Status().Cycles >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	assert.Equal(t, 1, j.Len())
	assert.Len(t, msgs.all(), 1, "a record is announced once however often it is seen")
}

func TestNew_DefaultsZeroConfig(t *testing.T) {
	p, _ := newTestPoller(t, newFakeSource(), Config{})
	assert.Equal(t, 2*time.Second, p.cfg.PollInterval)
	assert.Equal(t, 20, p.cfg.SignatureLimit)
}

func TestClientSatisfiesTransactionSource(t *testing.T) {
	var _ TransactionSource = (*solana.Client)(nil)
	var _ Journal = (*journal.Journal)(nil)
}
