package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/walletwatch/service/app"
	"github.com/brojonat/walletwatch/service/config"
	"github.com/brojonat/walletwatch/service/journal"
	"github.com/brojonat/walletwatch/service/logging"
	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/brojonat/walletwatch/service/summary"
	"github.com/urfave/cli/v2"
)

func periodFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "period",
		Aliases: []string{"p"},
		Usage:   "Time period: 1, 7, 30, 90 or all (days)",
		Value:   "all",
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Poll a wallet and print new transactions as they arrive",
		ArgsUsage: "[WALLET_ADDRESS]",
		Description: `Poll a wallet locally and append new transactions to the journal.

Configuration is read from the environment (SOLANA_RPC_URL, POLL_INTERVAL, ...).
The wallet defaults to WALLET_ADDRESS. Stop with Ctrl-C.

Example:
  walletwatch watch DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK`,
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.IsSet("journal") {
				cfg.JournalPath = c.String("journal")
			}

			wallet := cfg.WalletAddress
			if c.NArg() > 0 {
				wallet = c.Args().Get(0)
			}
			if wallet == "" {
				return fmt.Errorf("wallet address is required (argument or WALLET_ADDRESS)")
			}
			if _, err := poller.ParseWallet(wallet); err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel, cfg.LogFormat, c.App.ErrWriter)
			out := c.App.Writer

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			monitor, err := app.Build(ctx, cfg, logger, nil, func(msg string) {
				fmt.Fprintln(out, msg)
			})
			if err != nil {
				return err
			}
			defer monitor.Close()

			if err := monitor.Poller.Start(wallet); err != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "Monitoring %s every %s (journal: %s)\n", wallet, cfg.PollInterval, monitor.Journal.Path())

			<-ctx.Done()
			monitor.Poller.Stop()

			status := monitor.Poller.Status()
			fmt.Fprintf(c.App.ErrWriter, "Stopped after %d cycles, %d records in journal\n", status.Cycles, monitor.Journal.Len())
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:    "history",
		Aliases: []string{"txns"},
		Usage:   "List journaled transactions",
		Description: `List journaled transactions inside a time period in journal order.
Each poll batch is stored newest first, as the RPC node returns it.

jq filters are evaluated against each record's JSON form; a record is listed
only when every filter returns a truthy value.

Example:
  walletwatch history --period 7 --jq '.type == "token_transfer"'`,
		Flags: []cli.Flag{
			periodFlag(),
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each record (may be repeated)",
			},
		},
		Action: func(c *cli.Context) error {
			days, err := summary.ParsePeriod(c.String("period"))
			if err != nil {
				return err
			}
			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			j, err := loadJournal(c)
			if err != nil {
				return err
			}

			records, err := filterRecords(j.Query(days), filters)
			if err != nil {
				return err
			}
			return printRecords(c.App.Writer, records, c.Bool("json"))
		},
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Summarize journaled transactions for a period",
		Flags: []cli.Flag{
			periodFlag(),
		},
		Action: func(c *cli.Context) error {
			days, err := summary.ParsePeriod(c.String("period"))
			if err != nil {
				return err
			}

			j, err := loadJournal(c)
			if err != nil {
				return err
			}

			s := summary.NewAggregator(j).Summarize(days)
			if c.Bool("json") {
				return printJSON(c.App.Writer, s)
			}
			fmt.Fprint(c.App.Writer, summary.FormatSummary(s))
			return nil
		},
	}
}

// loadJournal opens the journal read side. Unlike the monitor, a corrupt
// file is an error here.
func loadJournal(c *cli.Context) (*journal.Journal, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := journal.New(c.String("journal"), logger, nil)
	if err := j.Load(); err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}
	return j, nil
}

func printRecords(w io.Writer, records []*solana.Record, jsonOutput bool) error {
	if jsonOutput {
		if records == nil {
			records = []*solana.Record{}
		}
		return printJSON(w, records)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No transactions found for the selected period.")
		return nil
	}
	for i, rec := range records {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, solana.FormatRecord(rec))
	}
	fmt.Fprintf(w, "\nTotal: %d transaction(s)\n", len(records))
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func contextOrBackground(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
