package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brojonat/walletwatch/service/db"
	"github.com/brojonat/walletwatch/service/poller"
	"github.com/brojonat/walletwatch/service/summary"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:      "records",
		Usage:     "List archived records for a wallet, newest first",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			periodFlag(),
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of records",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			days, err := summary.ParsePeriod(c.String("period"))
			if err != nil {
				return err
			}
			limit := c.Int("limit")
			if limit < 1 {
				return fmt.Errorf("limit must be positive")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var since time.Time
			if days > 0 {
				since = time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
			}

			records, err := store.ListRecordsSince(contextOrBackground(c), wallet, since, int32(limit))
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			return printRecords(c.App.Writer, records, c.Bool("json"))
		},
	}
}

func countRecordsCommand() *cli.Command {
	return &cli.Command{
		Name:      "count",
		Usage:     "Count archived records for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountRecords(contextOrBackground(c), wallet)
			if err != nil {
				return fmt.Errorf("failed to count records: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, map[string]interface{}{"wallet": wallet, "count": count})
			}
			fmt.Fprintf(c.App.Writer, "%s: %d archived record(s)\n", wallet, count)
			return nil
		},
	}
}

func walletArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("wallet address is required")
	}
	wallet := c.Args().Get(0)
	if _, err := poller.ParseWallet(wallet); err != nil {
		return "", err
	}
	return wallet, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}
