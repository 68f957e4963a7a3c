// Package journal persists parsed transaction records to a local JSON file,
// keyed by signature.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
	"github.com/brojonat/walletwatch/service/solana"
)

// ErrCorrupt is returned by Load when the journal file exists but cannot be decoded.
var ErrCorrupt = errors.New("journal file is corrupt")

// Journal is an append-only, signature-deduplicated set of records backed by
// a single JSON array on disk. The whole file is rewritten on every Append.
type Journal struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	records []*solana.Record
	index   map[string]int // signature -> position in records
	now     func() time.Time
}

// New creates an empty journal bound to path without touching the file.
func New(path string, logger *slog.Logger, m *metrics.Metrics) *Journal {
	return &Journal{
		path:    path,
		logger:  logger,
		metrics: m,
		index:   make(map[string]int),
		now:     time.Now,
	}
}

// Open creates a journal and loads any existing file. Load failures are
// logged and leave the journal empty.
func Open(path string, logger *slog.Logger, m *metrics.Metrics) *Journal {
	j := New(path, logger, m)
	if err := j.Load(); err != nil {
		logger.Error("failed to load journal, starting empty",
			"path", path,
			"error", err,
		)
	}
	return j
}

// Path returns the backing file path.
func (j *Journal) Path() string {
	return j.path
}

// Load replaces the in-memory set with the file contents.
// A missing file yields an empty set and no error.
func (j *Journal) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.records = nil
	j.index = make(map[string]int)

	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		j.recordSize()
		return nil
	}
	if err != nil {
		j.recordFailure("load")
		return fmt.Errorf("failed to read journal: %w", err)
	}

	var records []*solana.Record
	if err := json.Unmarshal(data, &records); err != nil {
		j.recordFailure("load")
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	// Files written by hand or by older builds may repeat a signature; the
	// later entry wins but keeps the first position.
	j.merge(records)
	j.recordSize()

	j.logger.Debug("loaded journal", "path", j.path, "records", len(j.records))
	return nil
}

// Append merges a batch into the journal and rewrites the file.
//
// A signature already present keeps its position and takes the batch's
// version; new signatures are appended in batch order. The returned slice
// holds the records whose signature was not present before the call.
//
// If the file cannot be written the in-memory merge still stands and the
// error is returned.
func (j *Journal) Append(ctx context.Context, batch []*solana.Record) ([]*solana.Record, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	fresh := j.merge(batch)

	start := time.Now()
	err := j.save()
	if err != nil {
		j.recordFailure("save")
		j.logger.ErrorContext(ctx, "failed to save journal",
			"path", j.path,
			"error", err,
		)
	} else if j.metrics != nil {
		j.metrics.RecordJournalAppend(len(fresh), time.Since(start).Seconds())
	}
	j.recordSize()

	j.logger.DebugContext(ctx, "appended batch to journal",
		"batch", len(batch),
		"fresh", len(fresh),
		"total", len(j.records),
	)
	return fresh, err
}

// merge applies a batch and returns the records that were new. Duplicates
// within the batch collapse to the last occurrence. Caller holds mu.
func (j *Journal) merge(batch []*solana.Record) []*solana.Record {
	var fresh []*solana.Record
	freshPos := make(map[string]int)

	for _, rec := range batch {
		if rec == nil || rec.Signature == "" {
			continue
		}
		if pos, ok := j.index[rec.Signature]; ok {
			j.records[pos] = rec
			if fp, seen := freshPos[rec.Signature]; seen {
				fresh[fp] = rec
			}
			continue
		}
		j.index[rec.Signature] = len(j.records)
		j.records = append(j.records, rec)
		freshPos[rec.Signature] = len(fresh)
		fresh = append(fresh, rec)
	}
	return fresh
}

// save writes the full record set to a temp file and renames it over the
// journal. Caller holds mu.
func (j *Journal) save() error {
	records := j.records
	if records == nil {
		records = []*solana.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close journal: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace journal: %w", err)
	}
	return nil
}

// Query returns records whose timestamp falls within the last days days,
// in insertion order. days <= 0 returns every record.
func (j *Journal) Query(days int) []*solana.Record {
	return j.QueryAt(j.now(), days)
}

// QueryAt is Query evaluated against the given clock reading.
// The cutoff is exclusive: a record exactly days*24h old is not returned.
func (j *Journal) QueryAt(now time.Time, days int) []*solana.Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	if days <= 0 {
		out := make([]*solana.Record, len(j.records))
		copy(out, j.records)
		return out
	}

	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	out := make([]*solana.Record, 0, len(j.records))
	for _, rec := range j.records {
		if rec.Timestamp.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// Has reports whether a record with this signature is stored.
func (j *Journal) Has(signature string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.index[signature]
	return ok
}

// Len returns the number of stored records.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

func (j *Journal) recordSize() {
	if j.metrics != nil {
		j.metrics.RecordJournalSize(len(j.records))
	}
}

func (j *Journal) recordFailure(op string) {
	if j.metrics != nil {
		j.metrics.RecordJournalFailure(op)
	}
}
