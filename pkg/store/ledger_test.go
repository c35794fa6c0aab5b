package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/store"
)

func openLedger(t *testing.T) *store.Ledger {
	t.Helper()
	l, err := store.OpenLedger(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerSeen(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	filing := models.FilingID{Ticker: "AAPL", FiscalYear: 2019}
	hash := store.ContentHash("<html>10-K</html>")

	seen, err := l.Seen(ctx, filing, hash)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Record(ctx, models.LedgerEntry{Filing: filing, Source: "a.htm", ContentHash: hash, Chunks: 12}))

	seen, err = l.Seen(ctx, filing, hash)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = l.Seen(ctx, filing, store.ContentHash("<html>amended</html>"))
	require.NoError(t, err)
	assert.False(t, seen, "changed content must be re-ingested")
}

func TestLedgerRecordUpserts(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t)
	filing := models.FilingID{Ticker: "MSFT", FiscalYear: 2020}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, models.LedgerEntry{Filing: filing, Source: "old", ContentHash: "h1", Chunks: 3, IngestedAt: at}))
	require.NoError(t, l.Record(ctx, models.LedgerEntry{Filing: filing, Source: "new", ContentHash: "h2", Chunks: 5, IngestedAt: at}))
	require.NoError(t, l.Record(ctx, models.LedgerEntry{Filing: models.FilingID{Ticker: "AAPL", FiscalYear: 2021}, Source: "x", ContentHash: "h3", Chunks: 1}))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "AAPL", entries[0].Filing.Ticker)
	got := entries[1]
	assert.Equal(t, filing, got.Filing)
	assert.Equal(t, "new", got.Source)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, 5, got.Chunks)
	assert.True(t, at.Equal(got.IngestedAt))
}

func TestContentHashIsStable(t *testing.T) {
	assert.Equal(t, store.ContentHash("abc"), store.ContentHash("abc"))
	assert.NotEqual(t, store.ContentHash("abc"), store.ContentHash("abd"))
	assert.Len(t, store.ContentHash(""), 64)
}
