package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletwatch/client"
	"github.com/brojonat/walletwatch/service/poller"
	"github.com/urfave/cli/v2"
)

func remoteCommands() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "HTTP client commands for a running walletwatch server",
		Subcommands: []*cli.Command{
			remoteStartCommand(),
			remoteStopCommand(),
			remoteStatusCommand(),
			remoteTransactionsCommand(),
			remoteSummaryCommand(),
			remoteArchiveCommand(),
			remoteStreamCommand(),
			healthCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func remoteStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start monitoring a wallet on the server",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			status, err := newClient(c).Start(contextOrBackground(c), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to start monitoring: %w", err)
			}
			return printStatus(c, status)
		},
	}
}

func remoteStopCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Stop monitoring on the server",
		Action: func(c *cli.Context) error {
			status, err := newClient(c).Stop(contextOrBackground(c))
			if err != nil {
				return fmt.Errorf("failed to stop monitoring: %w", err)
			}
			return printStatus(c, status)
		},
	}
}

func remoteStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the server's monitoring status",
		Action: func(c *cli.Context) error {
			status, err := newClient(c).Status(contextOrBackground(c))
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			return printStatus(c, status)
		},
	}
}

func remoteTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txns"},
		Usage:   "List the server's journaled transactions",
		Flags: []cli.Flag{
			periodFlag(),
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each record (may be repeated)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			list, err := newClient(c).Transactions(contextOrBackground(c), c.String("period"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			records, err := filterRecords(list.Transactions, filters)
			if err != nil {
				return err
			}
			return printRecords(c.App.Writer, records, c.Bool("json"))
		},
	}
}

func remoteSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show the server's summary for a period",
		Flags: []cli.Flag{
			periodFlag(),
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			if c.Bool("json") {
				s, err := cl.Summary(contextOrBackground(c), c.String("period"))
				if err != nil {
					return fmt.Errorf("failed to get summary: %w", err)
				}
				return printJSON(c.App.Writer, s)
			}
			text, err := cl.SummaryText(contextOrBackground(c), c.String("period"))
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}
			fmt.Fprint(c.App.Writer, text)
			return nil
		},
	}
}

func remoteArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "List records from the server's archive database",
		ArgsUsage: "[WALLET_ADDRESS]",
		Flags: []cli.Flag{
			periodFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records",
				Value:   100,
			},
		},
		Action: func(c *cli.Context) error {
			list, err := newClient(c).Archive(contextOrBackground(c), c.Args().Get(0), c.String("period"), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list archive: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, list)
			}
			if err := printRecords(c.App.Writer, list.Transactions, false); err != nil {
				return err
			}
			if list.Total != nil {
				fmt.Fprintf(c.App.Writer, "Archived for %s: %d\n", list.Wallet, *list.Total)
			}
			return nil
		},
	}
}

func remoteStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Follow the server's live feed",
		Description: `Follow the live feed over Server-Sent Events until interrupted.

Example:
  walletwatch remote stream --server-url http://localhost:8080`,
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(contextOrBackground(c), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := c.App.Writer
			jsonOutput := c.Bool("json")
			return newClient(c).Stream(ctx, func(e client.Event) {
				if jsonOutput {
					printJSON(w, map[string]string{"event": e.Name, "data": e.Data})
					return
				}
				switch e.Name {
				case "connected":
					fmt.Fprintf(c.App.ErrWriter, "Connected: %s\n", e.Data)
				default:
					fmt.Fprintln(w, e.Data)
					fmt.Fprintln(w)
				}
			})
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set WALLETWATCH_SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}

func printStatus(c *cli.Context, status *poller.Status) error {
	if c.Bool("json") {
		return printJSON(c.App.Writer, status)
	}

	w := c.App.Writer
	if !status.Running {
		fmt.Fprintln(w, "Monitoring: stopped")
	} else {
		fmt.Fprintln(w, "Monitoring: running")
	}
	if status.Wallet != "" {
		fmt.Fprintf(w, "Wallet:      %s\n", status.Wallet)
	}
	if status.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", status.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Cycles:      %d\n", status.Cycles)
	if status.LastCycleAt != nil {
		fmt.Fprintf(w, "Last cycle:  %s (%s)\n", status.LastCycleAt.Format(time.RFC3339), status.LastOutcome)
	}
	if status.LastError != "" {
		fmt.Fprintf(w, "Last error:  %s\n", status.LastError)
	}
	return nil
}
