package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/tenk/internal/models"
)

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
	// IndexLists is the ivfflat "lists" parameter.
	IndexLists int
}

type VectorStore struct {
	config VectorStoreConfig
	table  string // quoted identifier
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "filing_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if config.IndexLists == 0 {
		config.IndexLists = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			ticker TEXT NOT NULL,
			fiscal_year INTEGER NOT NULL,
			item TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			char_count INTEGER NOT NULL,
			embedding vector(%d),
			metadata JSONB,
			UNIQUE (ticker, fiscal_year, item, chunk_index)
		)`, vs.table, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table, vs.config.IndexLists)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// ReplaceItem stores the chunks of one item in a single transaction. Rows
// with a chunk index past the new chunk count are deleted, so re-chunking a
// filing never leaves stale tail chunks behind.
func (vs *VectorStore) ReplaceItem(ctx context.Context, filing models.FilingID, item string, chunks []models.EmbeddedChunk) error {
	for i, c := range chunks {
		if c.Ticker != filing.Ticker || c.FiscalYear != filing.FiscalYear || c.Item != item {
			return fmt.Errorf("chunk %s does not belong to %s %s", c.Key(), filing, item)
		}
		if c.Index != i {
			return fmt.Errorf("%w: chunk %s at position %d", models.ErrInvariantViolation, c.Key(), i)
		}
		if len(c.Embedding) != vs.config.VectorDim {
			return fmt.Errorf("chunk %s has %d dimensions, table expects %d", c.Key(), len(c.Embedding), vs.config.VectorDim)
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, ticker, fiscal_year, item, chunk_index, content, char_count, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			char_count = EXCLUDED.char_count,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.table)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(stmt,
			c.ID,
			c.Ticker,
			c.FiscalYear,
			c.Item,
			c.Index,
			strings.ToValidUTF8(c.Text, ""),
			c.CharCount,
			pgvector.NewVector(c.Embedding),
			Metadata(c.Chunk),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert chunks of %s %s: %w", filing, item, err)
	}

	prune := fmt.Sprintf(`DELETE FROM %s WHERE ticker = $1 AND fiscal_year = $2 AND item = $3 AND chunk_index >= $4`, vs.table)
	if _, err := tx.Exec(ctx, prune, filing.Ticker, filing.FiscalYear, item, len(chunks)); err != nil {
		return fmt.Errorf("failed to prune stale chunks of %s %s: %w", filing, item, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Metadata is the JSON document stored next to each chunk.
func Metadata(c models.Chunk) map[string]interface{} {
	return map[string]interface{}{
		"company":     c.Ticker,
		"year":        c.FiscalYear,
		"item":        c.Item,
		"chunk_index": c.Index,
		"char_count":  c.CharCount,
		"has_table":   c.HasTable,
		"oversized":   c.Oversized,
	}
}

// Query returns the chunks closest to the embedding by cosine distance.
func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT id, ticker, fiscal_year, item, chunk_index, content, char_count, metadata,
			1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		err := rows.Scan(
			&r.ID,
			&r.Ticker,
			&r.FiscalYear,
			&r.Item,
			&r.Index,
			&r.Text,
			&r.CharCount,
			&r.Metadata,
			&r.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if v, ok := r.Metadata["has_table"].(bool); ok {
			r.HasTable = v
		}
		if v, ok := r.Metadata["oversized"].(bool); ok {
			r.Oversized = v
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
