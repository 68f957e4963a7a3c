// Package app assembles the monitor from configuration: RPC client, journal,
// lookups and the optional NATS and Postgres sinks.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/brojonat/walletwatch/service/config"
	"github.com/brojonat/walletwatch/service/db"
	"github.com/brojonat/walletwatch/service/journal"
	"github.com/brojonat/walletwatch/service/metrics"
	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/brojonat/walletwatch/service/tokens"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App holds the wired monitor and everything that must be released with it.
type App struct {
	Journal *journal.Journal
	Poller  *poller.Poller
	Store   *db.Store // nil without DATABASE_URL

	publisher *natspkg.JetStreamPublisher
	pool      *pgxpool.Pool
	logger    *slog.Logger
}

// Build wires the monitor. Every notifier receives each live-feed message.
// Lookup failures are logged and leave the monitor running without enrichment
// data; sink failures are returned.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, notifiers ...poller.Notifier) (*App, error) {
	a := &App{logger: logger}

	endpoint, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to select RPC endpoint: %w", err)
	}
	source := solana.NewClient(solana.NewRPCClient(endpoint), endpoint, m, logger)
	logger.Info("initialized solana RPC client", "url", endpoint, "configured", len(cfg.SolanaRPCURLs))

	a.Journal = journal.Open(cfg.JournalPath, logger, m)

	httpClient := &http.Client{Timeout: cfg.LookupTimeout}
	registry := tokens.NewRegistry(httpClient, logger, m)
	prices := tokens.NewPriceTracker(cfg.PriceAPIURL, httpClient, logger, m)
	warmLookups(ctx, cfg, registry, prices, logger)

	opts := []poller.Option{
		poller.WithEnricher(tokens.NewEnricher(registry, prices, logger)),
		poller.WithNotifier(fanout(notifiers)),
	}

	if cfg.NATSURL != "" {
		a.publisher, err = natspkg.NewPublisher(cfg.NATSURL, logger, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		opts = append(opts, poller.WithPublisher(a.publisher))
	}

	if cfg.DatabaseURL != "" {
		if err := a.openStore(ctx, cfg.DatabaseURL, m); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, poller.WithArchiver(a.Store))
	}

	a.Poller = poller.New(source, a.Journal, poller.Config{
		PollInterval:        cfg.PollInterval,
		SignatureLimit:      cfg.SignatureLimit,
		SkipKnownSignatures: cfg.SkipKnownSignatures,
	}, logger, m, opts...)

	return a, nil
}

func (a *App) openStore(ctx context.Context, url string, m *metrics.Metrics) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	a.pool = pool

	store := db.NewStore(pool, m)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	a.Store = store
	a.logger.Info("connected to archive database")
	return nil
}

// Close stops monitoring and releases the sinks.
func (a *App) Close() {
	if a.Poller != nil {
		a.Poller.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// warmLookups loads the token list and the SOL price concurrently.
func warmLookups(ctx context.Context, cfg *config.Config, registry *tokens.Registry, prices *tokens.PriceTracker, logger *slog.Logger) {
	g, ctx := errgroup.WithContext(ctx)

	if cfg.TokenListURL != "" {
		g.Go(func() error {
			if err := registry.Load(ctx, cfg.TokenListURL); err != nil {
				logger.WarnContext(ctx, "failed to load token list, using defaults", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := prices.Update(ctx, []string{tokens.SOLPriceID}); err != nil {
			logger.WarnContext(ctx, "failed to fetch SOL price", "error", err)
		}
		return nil
	})

	g.Wait()
}

func fanout(notifiers []poller.Notifier) poller.Notifier {
	return func(message string) {
		for _, n := range notifiers {
			if n != nil {
				n(message)
			}
		}
	}
}
