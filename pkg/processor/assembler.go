package processor

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xhad/tenk/internal/models"
)

// chunkNamespace scopes chunk IDs so the same key always maps to the same ID.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/xhad/tenk/chunks"))

// ChunkID is derived from the chunk key, so re-chunking a filing reproduces
// the IDs of unchanged chunks.
func ChunkID(key string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Assemble numbers the drafts of one item densely from 0 and attaches the
// filing metadata.
func Assemble(filing models.FilingID, span models.ItemSpan, drafts []models.ChunkDraft) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0, len(drafts))
	for i, d := range drafts {
		if d.Text == "" {
			return nil, fmt.Errorf("%w: %s %s draft %d is empty", models.ErrInvariantViolation, filing, span.Label, i)
		}
		c := models.Chunk{
			Ticker:     filing.Ticker,
			FiscalYear: filing.FiscalYear,
			Item:       span.Label,
			Index:      i,
			Text:       d.Text,
			CharCount:  utf8.RuneCountInString(d.Text),
			Blocks:     d.Blocks,
			HasTable:   d.HasTable,
			Oversized:  d.Oversized,
		}
		c.ID = ChunkID(c.Key())
		chunks = append(chunks, c)
	}
	return chunks, nil
}
