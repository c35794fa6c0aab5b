package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/tenk/internal/models"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ingested_filings (
	ticker       TEXT    NOT NULL,
	fiscal_year  INTEGER NOT NULL,
	source       TEXT    NOT NULL,
	content_hash TEXT    NOT NULL,
	chunks       INTEGER NOT NULL,
	ingested_at  TEXT    NOT NULL,
	PRIMARY KEY (ticker, fiscal_year)
)`

// Ledger is a local SQLite record of ingested filings, used to skip
// filings whose content has not changed since the last run.
type Ledger struct {
	db   *sql.DB
	path string
}

func OpenLedger(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// ContentHash fingerprints filing markup.
func ContentHash(markup string) string {
	sum := sha256.Sum256([]byte(markup))
	return hex.EncodeToString(sum[:])
}

// Seen reports whether the filing was already ingested with this content.
func (l *Ledger) Seen(ctx context.Context, filing models.FilingID, contentHash string) (bool, error) {
	var stored string
	err := l.db.QueryRowContext(ctx,
		`SELECT content_hash FROM ingested_filings WHERE ticker = ? AND fiscal_year = ?`,
		filing.Ticker, filing.FiscalYear).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading ledger for %s: %w", filing, err)
	}
	return stored == contentHash, nil
}

func (l *Ledger) Record(ctx context.Context, entry models.LedgerEntry) error {
	if entry.IngestedAt.IsZero() {
		entry.IngestedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ingested_filings (ticker, fiscal_year, source, content_hash, chunks, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, fiscal_year) DO UPDATE SET
			source = excluded.source,
			content_hash = excluded.content_hash,
			chunks = excluded.chunks,
			ingested_at = excluded.ingested_at`,
		entry.Filing.Ticker, entry.Filing.FiscalYear, entry.Source, entry.ContentHash,
		entry.Chunks, entry.IngestedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording %s: %w", entry.Filing, err)
	}
	return nil
}

// Entries lists every recorded filing ordered by ticker and year.
func (l *Ledger) Entries(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT ticker, fiscal_year, source, content_hash, chunks, ingested_at
		FROM ingested_filings
		ORDER BY ticker, fiscal_year`)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var at string
		if err := rows.Scan(&e.Filing.Ticker, &e.Filing.FiscalYear, &e.Source, &e.ContentHash, &e.Chunks, &at); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		if e.IngestedAt, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("parsing ingested_at %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
