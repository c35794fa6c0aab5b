// Package pipeline composes the parsing and chunking stages: one raw filing
// in, one ordered FilingResult out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/normalizer"
	"github.com/xhad/tenk/pkg/processor"
	"github.com/xhad/tenk/pkg/segmenter"
	"github.com/xhad/tenk/pkg/tables"
)

// Config holds the settings of every stage. It is copied into the Pipeline
// and never changed afterwards.
type Config struct {
	// Form selects the document isolated from full-submission files.
	Form       string
	Segmenter  segmenter.Config
	Normalizer normalizer.Config
	Tables     tables.Config
	Processor  processor.ProcessorConfig
}

func DefaultConfig() Config {
	return Config{
		Form:      "10-K",
		Segmenter: segmenter.DefaultConfig(),
		Tables:    tables.DefaultConfig(),
		Processor: processor.ProcessorConfig{
			MaxChunkSize: processor.DefaultMaxChunkSize,
			MinChunkSize: processor.DefaultMinChunkSize,
			Measure:      processor.MeasureChars,
		},
	}
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProgress registers a callback invoked after each filing of ProcessAll.
// It may be called from several goroutines at once.
func WithProgress(fn func(Outcome)) Option {
	return func(p *Pipeline) {
		p.onProgress = fn
	}
}

type Pipeline struct {
	config     Config
	segmenter  *segmenter.Segmenter
	normalizer *normalizer.Normalizer
	tables     *tables.Flattener
	processor  *processor.Processor
	logger     *zap.Logger
	onProgress func(Outcome)
}

func New(config Config, opts ...Option) (*Pipeline, error) {
	if config.Form == "" {
		config.Form = "10-K"
	}

	p := &Pipeline{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.segmenter, err = segmenter.New(config.Segmenter); err != nil {
		return nil, fmt.Errorf("segmenter: %w", err)
	}
	if p.processor, err = processor.NewWithConfig(config.Processor); err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	p.normalizer = normalizer.New(config.Normalizer, normalizer.WithLogger(p.logger))
	p.tables = tables.New(config.Tables)

	return p, nil
}

func (p *Pipeline) Config() Config {
	return p.config
}

// Process runs every stage over one filing. It has no side effects besides
// logging; calling it twice with the same filing yields the same result.
func (p *Pipeline) Process(filing models.RawFiling) (result *models.FilingResult, err error) {
	id := filing.ID()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("processing %s panicked: %v", id, r)
		}
	}()

	result = &models.FilingResult{Filing: id, Status: models.StatusEmpty}

	markup := filing.Markup
	if doc, ok := segmenter.ExtractPrimaryDocument(markup, p.config.Form); ok {
		markup = doc
	}
	if strings.TrimSpace(markup) == "" {
		p.logger.Info("filing is empty", zap.Stringer("filing", id))
		return result, nil
	}

	spans := p.segmenter.Segment(markup)
	result.Degraded = p.segmenter.Degraded(spans)
	if result.Degraded {
		p.logger.Warn("no item headings found, chunking whole document",
			zap.Stringer("filing", id),
			zap.String("source", filing.Source))
	}

	for _, span := range spans {
		item, err := p.processItem(id, span)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", id, span.Label, err)
		}
		if len(item.Chunks) > 0 {
			result.Status = models.StatusChunked
		}
		result.Items = append(result.Items, item)
	}

	p.logger.Debug("processed filing",
		zap.Stringer("filing", id),
		zap.Int("items", len(result.Items)),
		zap.Int("chunks", len(result.Chunks())))

	return result, nil
}

func (p *Pipeline) processItem(id models.FilingID, span models.ItemSpan) (models.ItemResult, error) {
	blocks, err := p.normalizer.Normalize(span)
	if err != nil {
		return models.ItemResult{}, err
	}
	blocks, err = p.tables.FlattenBlocks(blocks)
	if err != nil {
		return models.ItemResult{}, err
	}
	drafts, err := p.processor.Chunk(blocks)
	if err != nil {
		return models.ItemResult{}, err
	}
	chunks, err := processor.Assemble(id, span, drafts)
	if err != nil {
		return models.ItemResult{}, err
	}
	return models.ItemResult{Span: span, Blocks: blocks, Chunks: chunks}, nil
}

// Outcome is the result of one filing of a batch. Exactly one of Result and
// Err is set.
type Outcome struct {
	Filing models.FilingID
	Source string
	Result *models.FilingResult
	Err    error
}

// ProcessAll processes filings concurrently on at most workers goroutines
// and returns one Outcome per filing, in input order. A failing filing does
// not stop the others. Once ctx is done no new filing is started; filings
// already running finish.
func (p *Pipeline) ProcessAll(ctx context.Context, filings []models.RawFiling, workers int) []Outcome {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outcomes := make([]Outcome, len(filings))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, filing := range filings {
		outcomes[i] = Outcome{Filing: filing.ID(), Source: filing.Source}
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}

		g.Go(func() error {
			out := &outcomes[i]
			if err := ctx.Err(); err != nil {
				out.Err = err
			} else {
				out.Result, out.Err = p.Process(filing)
			}

			switch {
			case out.Err == nil:
			case errors.Is(out.Err, models.ErrInvariantViolation):
				p.logger.Error("chunk invariant violated",
					zap.Stringer("filing", out.Filing),
					zap.String("source", out.Source),
					zap.Error(out.Err))
			case ctx.Err() == nil:
				p.logger.Error("filing failed",
					zap.Stringer("filing", out.Filing),
					zap.String("source", out.Source),
					zap.Error(out.Err))
			}

			if p.onProgress != nil {
				p.onProgress(*out)
			}
			return nil
		})
	}

	g.Wait()
	return outcomes
}
