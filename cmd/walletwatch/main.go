package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "walletwatch",
		Usage: "Solana wallet transaction monitor",
		Description: `A command-line tool for watching a Solana wallet and reading its transaction journal.

Use "watch" to poll a wallet locally, "history" and "summary" to read the journal,
and "remote" to drive a running walletwatch server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Local journal commands
			watchCommand(),
			historyCommand(),
			summaryCommand(),
			// Client commands (HTTP API)
			remoteCommands(),
			// NATS record streaming commands
			{
				Name:  "nats",
				Usage: "NATS record streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Archive inspection commands
			{
				Name:  "db",
				Usage: "Archive database inspection commands",
				Subcommands: []*cli.Command{
					listRecordsCommand(),
					countRecordsCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "Path to the transaction journal file",
				EnvVars: []string{"JOURNAL_PATH"},
				Value:   "transaction_history.json",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Archive database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "walletwatch server URL",
				EnvVars: []string{"WALLETWATCH_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			fmt.Fprintf(w, "walletwatch CLI\n")
			fmt.Fprintf(w, "  Version: %s\n", version)
			fmt.Fprintf(w, "  Commit:  %s\n", commit)
			fmt.Fprintf(w, "  Built:   %s\n", date)
			return nil
		},
	}
}
