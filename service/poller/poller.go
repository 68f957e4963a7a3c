// Package poller runs the monitoring session for a single wallet: fetch the
// most recent signatures, parse each transaction, journal the batch and
// notify listeners once per parsed record.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrInvalidWallet is returned by Start when the address is not a valid
// base58 Solana public key.
var ErrInvalidWallet = errors.New("invalid wallet address")

// Outcome is how a poll cycle ended.
type Outcome string

const (
	OutcomeNoNewTransactions Outcome = "no_new_transactions"
	OutcomeAppended          Outcome = "appended"
	OutcomeFetchFailed       Outcome = "fetch_failed"
	OutcomeCancelled         Outcome = "cancelled"
)

// CycleResult reports what a single poll cycle did.
type CycleResult struct {
	Outcome Outcome
	// Records is every record parsed in this cycle, in fetch order.
	Records []*solana.Record
	// Fresh is the subset of Records whose signature was new to the journal.
	Fresh         []*solana.Record
	Skipped       int
	ParseFailures int
	FetchFailures int
	Err           error
}

// TransactionSource is the RPC side of the loop.
type TransactionSource interface {
	RecentSignatures(ctx context.Context, wallet solanago.PublicKey, limit int) ([]*rpc.TransactionSignature, error)
	FetchTransaction(ctx context.Context, signature solanago.Signature) (*rpc.GetTransactionResult, error)
}

// Journal is where parsed batches are persisted.
type Journal interface {
	Append(ctx context.Context, batch []*solana.Record) ([]*solana.Record, error)
	Has(signature string) bool
}

// Enricher fills in symbols and USD values before a batch is journaled.
type Enricher interface {
	Enrich(ctx context.Context, records []*solana.Record)
}

// Publisher fans fresh records out to other processes.
type Publisher interface {
	PublishRecords(ctx context.Context, wallet string, records []*solana.Record) error
}

// Archiver mirrors journaled batches to long-term storage.
type Archiver interface {
	UpsertRecords(ctx context.Context, wallet string, records []*solana.Record) error
}

// Notifier receives one display string per parsed record, and "Error: ..."
// strings for fetch failures. It is called from the polling goroutine.
type Notifier func(message string)

// Config controls loop timing and batch size.
type Config struct {
	PollInterval        time.Duration
	SignatureLimit      int
	SkipKnownSignatures bool
}

// DefaultConfig polls every 2s for the 20 most recent signatures.
func DefaultConfig() Config {
	return Config{
		PollInterval:   2 * time.Second,
		SignatureLimit: solana.DefaultSignatureLimit,
	}
}

// Option configures optional collaborators.
type Option func(*Poller)

// WithEnricher sets the enricher applied to each batch.
func WithEnricher(e Enricher) Option {
	return func(p *Poller) { p.enricher = e }
}

// WithPublisher sets the publisher for fresh records.
func WithPublisher(pub Publisher) Option {
	return func(p *Poller) { p.publisher = pub }
}

// WithArchiver sets the archive every parsed batch is mirrored to.
func WithArchiver(a Archiver) Option {
	return func(p *Poller) { p.archiver = a }
}

// WithNotifier sets the live-feed callback. A nil n is ignored.
func WithNotifier(n Notifier) Option {
	return func(p *Poller) {
		if n != nil {
			p.notify = n
		}
	}
}

// Status is a snapshot of the session state.
type Status struct {
	Running     bool       `json:"running"`
	Wallet      string     `json:"wallet,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Cycles      int        `json:"cycles"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	LastOutcome Outcome    `json:"last_outcome,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type session struct {
	wallet solanago.PublicKey
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller owns at most one monitoring session at a time.
type Poller struct {
	source  TransactionSource
	journal Journal
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	enricher  Enricher
	publisher Publisher
	archiver  Archiver
	notify    Notifier

	// sessionMu serializes Start and Stop, and is held while waiting for a
	// session goroutine to exit.
	sessionMu sync.Mutex
	current   *session

	// statusMu guards status; the session goroutine only takes this one.
	statusMu sync.Mutex
	status   Status
}

// New creates a Poller. Zero values in cfg fall back to DefaultConfig.
func New(source TransactionSource, journal Journal, cfg Config, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = def.SignatureLimit
	}
	p := &Poller{
		source:  source,
		journal: journal,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		notify:  func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseWallet validates a base58 wallet address.
func ParseWallet(address string) (solanago.PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidWallet, err)
	}
	return pk, nil
}

// Start validates wallet and begins polling it. Any running session is
// stopped first and has fully exited before the new one begins.
func (p *Poller) Start(wallet string) error {
	pk, err := ParseWallet(wallet)
	if err != nil {
		p.logger.Warn("refusing to start monitoring", "wallet", wallet, "error", err)
		p.notify(fmt.Sprintf("Error: Could not start monitoring - %v", err))
		return err
	}

	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{wallet: pk, cancel: cancel, done: make(chan struct{})}
	p.current = s

	now := time.Now().UTC()
	p.statusMu.Lock()
	p.status = Status{Running: true, Wallet: pk.String(), StartedAt: &now}
	p.statusMu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordSessionStarted()
	}
	p.logger.Info("started monitoring", "wallet", pk.String(), "interval", p.cfg.PollInterval)

	go p.run(ctx, s)
	return nil
}

// Stop cancels the running session, if any, and waits for it to exit.
// Once Stop returns no further fetches, appends or notifications happen.
func (p *Poller) Stop() {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()
	p.stopLocked()
}

// Close stops monitoring. It exists for shutdown paths.
func (p *Poller) Close() error {
	p.Stop()
	return nil
}

func (p *Poller) stopLocked() {
	s := p.current
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
	p.current = nil

	p.statusMu.Lock()
	p.status.Running = false
	p.statusMu.Unlock()

	p.logger.Info("stopped monitoring", "wallet", s.wallet.String())
}

// Status returns a snapshot of the session state.
func (p *Poller) Status() Status {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	return p.status
}

func (p *Poller) run(ctx context.Context, s *session) {
	defer close(s.done)
	if p.metrics != nil {
		defer p.metrics.RecordSessionStopped()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		result := p.RunCycle(ctx, s.wallet)
		p.recordCycle(result)
		if result.Outcome == OutcomeCancelled || ctx.Err() != nil {
			return
		}

		timer.Reset(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) recordCycle(result CycleResult) {
	now := time.Now().UTC()
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	p.status.Cycles++
	p.status.LastCycleAt = &now
	p.status.LastOutcome = result.Outcome
	p.status.LastError = ""
	if result.Err != nil {
		p.status.LastError = result.Err.Error()
	}
}

// RunCycle performs one fetch, parse and append pass for wallet.
// Transactions are fetched one at a time and cancellation is checked before
// each fetch; a cancelled cycle appends nothing and notifies nobody.
func (p *Poller) RunCycle(ctx context.Context, wallet solanago.PublicKey) (result CycleResult) {
	start := time.Now()
	walletStr := wallet.String()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordPollCycle(walletStr, string(result.Outcome), time.Since(start).Seconds())
		}
		p.logger.DebugContext(ctx, "poll cycle finished",
			"wallet", walletStr,
			"outcome", result.Outcome,
			"parsed", len(result.Records),
			"fresh", len(result.Fresh),
			"skipped", result.Skipped,
			"parse_failures", result.ParseFailures,
			"fetch_failures", result.FetchFailures,
		)
	}()

	signatures, err := p.source.RecentSignatures(ctx, wallet, p.cfg.SignatureLimit)
	if err != nil {
		if ctx.Err() != nil {
			return CycleResult{Outcome: OutcomeCancelled, Err: ctx.Err()}
		}
		p.logger.ErrorContext(ctx, "failed to fetch signatures", "wallet", walletStr, "error", err)
		p.notify(fmt.Sprintf("Error: %v", err))
		return CycleResult{Outcome: OutcomeFetchFailed, Err: err}
	}

	for _, sig := range signatures {
		if ctx.Err() != nil {
			result.Outcome = OutcomeCancelled
			result.Err = ctx.Err()
			return result
		}
		if sig == nil {
			continue
		}

		sigStr := sig.Signature.String()
		if p.cfg.SkipKnownSignatures && p.journal.Has(sigStr) {
			result.Skipped++
			continue
		}

		txResult, err := p.source.FetchTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				result.Outcome = OutcomeCancelled
				result.Err = ctx.Err()
				return result
			}
			result.FetchFailures++
			p.logger.ErrorContext(ctx, "failed to fetch transaction",
				"wallet", walletStr,
				"signature", sigStr,
				"error", err,
			)
			p.notify(fmt.Sprintf("Error: %v", err))
			continue
		}
		if txResult == nil {
			p.logger.DebugContext(ctx, "transaction not available yet", "signature", sigStr)
			continue
		}

		blockTime := txResult.BlockTime
		if blockTime == nil {
			blockTime = sig.BlockTime
		}
		rec, err := solana.ParseTransaction(txResult, blockTime)
		if err != nil {
			result.ParseFailures++
			p.logger.WarnContext(ctx, "failed to parse transaction",
				"signature", sigStr,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.RecordTransactionParsed(walletStr, "error")
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordTransactionParsed(walletStr, "success")
		}
		result.Records = append(result.Records, rec)
	}

	if result.Skipped > 0 && p.metrics != nil {
		p.metrics.RecordTransactionsSkipped(walletStr, "known_signature", result.Skipped)
	}

	if len(result.Records) == 0 {
		result.Outcome = OutcomeNoNewTransactions
		return result
	}

	if p.enricher != nil {
		p.enricher.Enrich(ctx, result.Records)
	}
	if ctx.Err() != nil {
		result.Outcome = OutcomeCancelled
		result.Err = ctx.Err()
		return result
	}

	fresh, err := p.journal.Append(ctx, result.Records)
	if err != nil {
		// The merge stands in memory; the next successful append rewrites the file.
		result.Err = err
	}
	result.Fresh = fresh

	for _, rec := range result.Records {
		p.notify(solana.FormatRecord(rec))
	}

	if p.publisher != nil && len(fresh) > 0 {
		if err := p.publisher.PublishRecords(ctx, walletStr, fresh); err != nil {
			p.logger.WarnContext(ctx, "failed to publish records", "wallet", walletStr, "error", err)
		}
	}
	if p.archiver != nil {
		if err := p.archiver.UpsertRecords(ctx, walletStr, result.Records); err != nil {
			p.logger.WarnContext(ctx, "failed to archive records", "wallet", walletStr, "error", err)
		}
	}

	if len(fresh) > 0 {
		result.Outcome = OutcomeAppended
	} else {
		result.Outcome = OutcomeNoNewTransactions
	}
	return result
}
