package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/internal/types"
	"github.com/xhad/tenk/pkg/retry"
	"github.com/xhad/tenk/pkg/store"
)

type IngestConfig struct {
	Workers int
	// Force re-ingests filings the ledger has already seen.
	Force bool
	Retry retry.Config
}

// Ingestor chunks filings, embeds the chunks and writes them to the vector
// store. The ledger is optional.
type Ingestor struct {
	config   IngestConfig
	pipeline *Pipeline
	embedder types.Embedder
	store    types.VectorStore
	ledger   types.Ledger
	logger   *zap.Logger
	now      func() time.Time
}

func NewIngestor(config IngestConfig, p *Pipeline, embedder types.Embedder, vs types.VectorStore, ledger types.Ledger) *Ingestor {
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.DefaultConfig()
	}
	return &Ingestor{
		config:   config,
		pipeline: p,
		embedder: embedder,
		store:    vs,
		ledger:   ledger,
		logger:   p.logger,
		now:      time.Now,
	}
}

// IngestReport describes what happened to one filing.
type IngestReport struct {
	Filing  models.FilingID
	Source  string
	Skipped bool // unchanged since the last ingest
	Status  models.FilingStatus
	Chunks  int
	Err     error
}

// IngestAll parses the filings concurrently, then embeds and stores them one
// at a time in input order. Failures are reported per filing.
func (in *Ingestor) IngestAll(ctx context.Context, filings []models.RawFiling) []IngestReport {
	reports := make([]IngestReport, len(filings))
	hashes := make([]string, len(filings))

	var pending []models.RawFiling
	var positions []int
	for i, f := range filings {
		reports[i] = IngestReport{Filing: f.ID(), Source: f.Source}
		hashes[i] = store.ContentHash(f.Markup)

		if !in.config.Force && in.ledger != nil {
			seen, err := in.ledger.Seen(ctx, f.ID(), hashes[i])
			if err != nil {
				reports[i].Err = fmt.Errorf("ledger lookup: %w", err)
				continue
			}
			if seen {
				reports[i].Skipped = true
				in.logger.Info("filing unchanged, skipping", zap.Stringer("filing", f.ID()))
				continue
			}
		}
		pending = append(pending, f)
		positions = append(positions, i)
	}

	outcomes := in.pipeline.ProcessAll(ctx, pending, in.config.Workers)
	for k, out := range outcomes {
		i := positions[k]
		if out.Err != nil {
			reports[i].Err = out.Err
			continue
		}
		reports[i].Status = out.Result.Status
		reports[i].Chunks, reports[i].Err = in.write(ctx, out.Result)
		if reports[i].Err != nil {
			in.logger.Error("ingest failed", zap.Stringer("filing", out.Filing), zap.Error(reports[i].Err))
			continue
		}

		if in.ledger != nil {
			entry := models.LedgerEntry{
				Filing:      out.Filing,
				Source:      out.Source,
				ContentHash: hashes[i],
				Chunks:      reports[i].Chunks,
				IngestedAt:  in.now(),
			}
			if err := in.ledger.Record(ctx, entry); err != nil {
				reports[i].Err = fmt.Errorf("ledger record: %w", err)
			}
		}
	}
	return reports
}

// write embeds and stores every item of a processed filing. Items without
// chunks are written too, which clears what an earlier run left behind.
func (in *Ingestor) write(ctx context.Context, result *models.FilingResult) (int, error) {
	total := 0
	for _, item := range result.Items {
		texts := make([]string, len(item.Chunks))
		for i, c := range item.Chunks {
			texts[i] = c.Text
		}

		vectors, err := in.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("embedding %s: %w", item.Span.Label, err)
		}
		if len(vectors) != len(item.Chunks) {
			return total, fmt.Errorf("embedding %s: got %d vectors for %d chunks", item.Span.Label, len(vectors), len(item.Chunks))
		}

		embedded := make([]models.EmbeddedChunk, len(item.Chunks))
		for i, c := range item.Chunks {
			embedded[i] = models.EmbeddedChunk{Chunk: c, Embedding: vectors[i]}
		}

		_, err = retry.Do(ctx, in.config.Retry, func() (struct{}, error) {
			return struct{}{}, in.store.ReplaceItem(ctx, result.Filing, item.Span.Label, embedded)
		})
		if err != nil {
			return total, fmt.Errorf("storing %s: %w", item.Span.Label, err)
		}
		total += len(embedded)

		in.logger.Debug("stored item",
			zap.Stringer("filing", result.Filing),
			zap.String("item", item.Span.Label),
			zap.Int("chunks", len(embedded)))
	}

	in.logger.Info("ingested filing",
		zap.Stringer("filing", result.Filing),
		zap.Int("items", len(result.Items)),
		zap.Int("chunks", total),
		zap.Bool("degraded", result.Degraded))
	return total, nil
}
