package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletwatch/service/app"
	"github.com/brojonat/walletwatch/service/config"
	"github.com/brojonat/walletwatch/service/logging"
	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/server"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env file", "error", err)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"journal", cfg.JournalPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(nil)
	feed := server.NewFeed(logger, m)

	monitor, err := app.Build(ctx, cfg, logger, m, feed.Notify)
	if err != nil {
		logger.Error("failed to initialize monitor", "error", err)
		os.Exit(1)
	}
	defer monitor.Close()

	// A nil *db.Store must not become a non-nil Archive.
	var archive server.Archive
	if monitor.Store != nil {
		archive = monitor.Store
	}
	httpServer := server.New(cfg.ServerAddr, monitor.Poller, monitor.Journal, feed, archive, m, logger)

	if cfg.WalletAddress != "" {
		if err := monitor.Poller.Start(cfg.WalletAddress); err != nil {
			logger.Error("failed to start monitoring configured wallet", "wallet", cfg.WalletAddress, "error", err)
			os.Exit(1)
		}
	}

	logger.Info("server initialized, all dependencies ready",
		"nats_enabled", cfg.NATSURL != "",
		"archive_enabled", archive != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Stop polling before the feed goes away
		monitor.Poller.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}
