package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema creates the archive table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS journal_records (
    signature        TEXT PRIMARY KEY,
    wallet_address   TEXT NOT NULL,
    block_time       TIMESTAMPTZ NOT NULL,
    type             TEXT NOT NULL,
    sol_transfer     NUMERIC,
    token_transfers  JSONB NOT NULL DEFAULT '[]'::jsonb,
    total_value_usd  NUMERIC,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_journal_records_wallet_time
    ON journal_records (wallet_address, block_time DESC);
`

const upsertRecordSQL = `
INSERT INTO journal_records (
    signature, wallet_address, block_time, type, sol_transfer, token_transfers, total_value_usd
) VALUES ($1, $2, $3, $4, $5::text::numeric, $6::jsonb, $7::text::numeric)
ON CONFLICT (signature) DO UPDATE SET
    wallet_address  = EXCLUDED.wallet_address,
    block_time      = EXCLUDED.block_time,
    type            = EXCLUDED.type,
    sol_transfer    = EXCLUDED.sol_transfer,
    token_transfers = EXCLUDED.token_transfers,
    total_value_usd = EXCLUDED.total_value_usd,
    updated_at      = NOW()
`

const listRecordsSinceSQL = `
SELECT signature, block_time, type, sol_transfer::text, token_transfers, total_value_usd::text
FROM journal_records
WHERE wallet_address = $1 AND ($2::timestamptz IS NULL OR block_time > $2)
ORDER BY block_time DESC, signature
LIMIT $3
`

const countRecordsSQL = `SELECT COUNT(*) FROM journal_records WHERE wallet_address = $1`

// Store archives journal records in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// EnsureSchema creates the archive table and index if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, Schema)
	s.record("ensure_schema", start, err)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertRecords writes records for wallet in one batch. A signature that is
// already archived is overwritten, so the latest write wins.
func (s *Store) UpsertRecords(ctx context.Context, wallet string, records []*solana.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		transfers := rec.TokenTransfers
		if transfers == nil {
			transfers = []solana.TokenTransfer{}
		}
		transfersJSON, err := json.Marshal(transfers)
		if err != nil {
			return fmt.Errorf("failed to encode token transfers for %s: %w", rec.Signature, err)
		}
		batch.Queue(upsertRecordSQL,
			rec.Signature,
			wallet,
			pgtype.Timestamptz{Time: rec.Timestamp, Valid: true},
			string(rec.Type),
			pgtextFromDecimalPtr(rec.SOLTransfer),
			string(transfersJSON),
			pgtextFromDecimalPtr(rec.TotalValueUSD),
		)
	}

	start := time.Now()
	err := s.pool.SendBatch(ctx, batch).Close()
	s.record("upsert_records", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}
	return nil
}

// ListRecordsSince returns a wallet's archived records with a block time after
// since, newest first. A zero since returns records of any age.
func (s *Store) ListRecordsSince(ctx context.Context, wallet string, since time.Time, limit int32) ([]*solana.Record, error) {
	var sinceVal pgtype.Timestamptz
	if !since.IsZero() {
		sinceVal = pgtype.Timestamptz{Time: since, Valid: true}
	}

	start := time.Now()
	rows, err := s.pool.Query(ctx, listRecordsSinceSQL, wallet, sinceVal, limit)
	if err != nil {
		s.record("list_records", start, err)
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*solana.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.record("list_records", start, err)
			return nil, err
		}
		records = append(records, rec)
	}
	err = rows.Err()
	s.record("list_records", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of archived records for a wallet.
func (s *Store) CountRecords(ctx context.Context, wallet string) (int64, error) {
	start := time.Now()
	var count int64
	err := s.pool.QueryRow(ctx, countRecordsSQL, wallet).Scan(&count)
	s.record("count_records", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func scanRecord(rows pgx.Rows) (*solana.Record, error) {
	var (
		rec           solana.Record
		blockTime     pgtype.Timestamptz
		typ           string
		solTransfer   pgtype.Text
		transfersJSON []byte
		totalValueUSD pgtype.Text
	)
	if err := rows.Scan(&rec.Signature, &blockTime, &typ, &solTransfer, &transfersJSON, &totalValueUSD); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec.Timestamp = blockTime.Time.UTC()
	rec.Type = solana.Classification(typ)
	if err := json.Unmarshal(transfersJSON, &rec.TokenTransfers); err != nil {
		return nil, fmt.Errorf("failed to decode token transfers for %s: %w", rec.Signature, err)
	}

	var err error
	if rec.SOLTransfer, err = decimalPtrFromPgtext(solTransfer); err != nil {
		return nil, err
	}
	if rec.TotalValueUSD, err = decimalPtrFromPgtext(totalValueUSD); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "journal_records", time.Since(start).Seconds(), err)
	}
}

func pgtextFromDecimalPtr(d *decimal.Decimal) pgtype.Text {
	if d == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: d.String(), Valid: true}
}

func decimalPtrFromPgtext(t pgtype.Text) (*decimal.Decimal, error) {
	if !t.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(t.String)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric %q: %w", t.String, err)
	}
	return &d, nil
}
