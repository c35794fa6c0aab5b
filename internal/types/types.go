package types

import (
	"context"

	"github.com/xhad/tenk/internal/models"
)

// Embedder turns chunk text into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists embedded chunks and answers similarity queries.
type VectorStore interface {
	// ReplaceItem upserts the chunks of one item and removes chunks left
	// over from a previous, longer chunking of the same item.
	ReplaceItem(ctx context.Context, filing models.FilingID, item string, chunks []models.EmbeddedChunk) error
	Query(ctx context.Context, embedding []float32, limit int) ([]models.SearchResult, error)
	Close()
}

// ChatEngine answers questions from retrieved chunks.
type ChatEngine interface {
	Chat(ctx context.Context, query string, results []models.SearchResult) (string, error)
	ChatStream(ctx context.Context, query string, results []models.SearchResult) (<-chan string, error)
}

// Ledger remembers which filing contents were already ingested.
type Ledger interface {
	Seen(ctx context.Context, filing models.FilingID, contentHash string) (bool, error)
	Record(ctx context.Context, entry models.LedgerEntry) error
}
