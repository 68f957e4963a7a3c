package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natspkg "github.com/brojonat/walletwatch/service/nats"
	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/urfave/cli/v2"
)

// subscribeCommand subscribes to record events for one wallet or all of them.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to record events",
		ArgsUsage: "[WALLET_ADDRESS]",
		Description: `Subscribe to record events published to NATS JetStream.

Events are published to the subject: walletwatch.txns.{wallet_address}
Without a wallet address every wallet's events are shown.

Example:
  walletwatch nats subscribe DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name (survives restarts)",
			},
		},
		Action: func(c *cli.Context) error {
			opts := natspkg.SubscribeOptions{Durable: c.String("durable")}
			if c.NArg() > 0 {
				opts.Wallet = c.Args().Get(0)
				if _, err := poller.ParseWallet(opts.Wallet); err != nil {
					return err
				}
			}

			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")
			w := c.App.Writer

			if !jsonOutput {
				subject := natspkg.StreamSubjects
				if opts.Wallet != "" {
					subject = natspkg.Subject(opts.Wallet)
				}
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", subject)
				fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n", natsURL)
				fmt.Fprintf(c.App.ErrWriter, "\nWaiting for transactions... (Ctrl-C to exit)\n\n")
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(c), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			return natspkg.Subscribe(ctx, natsURL, opts, logger, func(event *natspkg.RecordEvent) {
				printEvent(w, event, jsonOutput)
			})
		},
	}
}

func printEvent(w io.Writer, event *natspkg.RecordEvent, jsonOutput bool) {
	if jsonOutput {
		printJSON(w, event)
		return
	}
	fmt.Fprintf(w, "Wallet: %s\n", event.WalletAddress)
	display := event.Display
	if display == "" {
		display = solana.FormatRecord(event.Record())
	}
	fmt.Fprintln(w, display)
}
