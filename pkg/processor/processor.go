package processor

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/xhad/tenk/internal/models"
)

// Measure selects how chunk size is counted.
type Measure string

const (
	MeasureChars  Measure = "chars"
	MeasureTokens Measure = "tokens"
)

const (
	DefaultMaxChunkSize = 1000
	DefaultMinChunkSize = 100
	DefaultEncoding     = "cl100k_base"

	// blockSeparator joins content coming from different blocks.
	blockSeparator = "\n\n"
)

type ProcessorConfig struct {
	MaxChunkSize int
	MinChunkSize int
	Measure      Measure
	// Encoding is the tiktoken encoding used by MeasureTokens.
	Encoding string
	// SplitOversizedTables splits a table larger than MaxChunkSize at row
	// boundaries, repeating its caption and column line in every part.
	SplitOversizedTables bool
}

type Processor struct {
	config ProcessorConfig
	size   func(string) int
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.MaxChunkSize == 0 {
		config.MaxChunkSize = DefaultMaxChunkSize
	}
	if config.MinChunkSize == 0 {
		config.MinChunkSize = min(DefaultMinChunkSize, config.MaxChunkSize)
	}
	if config.Measure == "" {
		config.Measure = MeasureChars
	}
	if config.Encoding == "" {
		config.Encoding = DefaultEncoding
	}

	if config.MaxChunkSize < 0 || config.MinChunkSize < 0 {
		return nil, fmt.Errorf("%w: chunk sizes must be positive", models.ErrInvalidConfig)
	}
	if config.MinChunkSize > config.MaxChunkSize {
		return nil, fmt.Errorf("%w: min chunk size %d exceeds max %d",
			models.ErrInvalidConfig, config.MinChunkSize, config.MaxChunkSize)
	}

	p := &Processor{config: config}
	switch config.Measure {
	case MeasureChars:
		p.size = utf8.RuneCountInString
	case MeasureTokens:
		enc, err := tiktoken.GetEncoding(config.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%w: tiktoken encoding %q: %v", models.ErrInvalidConfig, config.Encoding, err)
		}
		p.size = func(s string) int {
			return len(enc.Encode(s, nil, nil))
		}
	default:
		return nil, fmt.Errorf("%w: unknown measure %q", models.ErrInvalidConfig, config.Measure)
	}
	return p, nil
}

// Size measures s the same way chunk limits are enforced.
func (p *Processor) Size(s string) int {
	return p.size(s)
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Chunk groups the blocks of one item into ordered drafts.
//
// Blocks are packed greedily. A table is never split unless it alone
// exceeds the maximum and SplitOversizedTables is set; otherwise an
// oversized table becomes one chunk flagged Oversized. Prose that does not
// fit is cut at paragraph, then sentence, then word boundaries.
func (p *Processor) Chunk(blocks []models.Block) ([]models.ChunkDraft, error) {
	b := &builder{p: p, expected: make(map[int]string)}
	for i, block := range blocks {
		if strings.TrimSpace(block.Text) == "" && block.Kind.Valid() {
			continue
		}
		switch block.Kind {
		case models.BlockText:
			b.addText(i, block.Text)
		case models.BlockTable:
			b.addTable(i, block)
		default:
			return nil, fmt.Errorf("%w: block %d is %v", models.ErrUnknownBlockKind, i, block.Kind)
		}
	}
	b.flush()

	if err := verify(blocks, b.drafts, b.expected); err != nil {
		return nil, err
	}
	return b.drafts, nil
}

type piece struct {
	text  string
	block int
	table bool
}

type builder struct {
	p      *Processor
	drafts []models.ChunkDraft
	pieces []piece
	text   string
	// expected overrides the reconstruction of blocks emitted with
	// repeated table headers.
	expected map[int]string
}

func (b *builder) max() int { return b.p.config.MaxChunkSize }

func (b *builder) join(next piece) string {
	if len(b.pieces) == 0 {
		return next.text
	}
	sep := blockSeparator
	if b.pieces[len(b.pieces)-1].block == next.block {
		sep = " "
	}
	return b.text + sep + next.text
}

func (b *builder) fits(pc piece) bool {
	return b.p.size(b.join(pc)) <= b.max()
}

func (b *builder) push(pc piece) {
	b.text = b.join(pc)
	b.pieces = append(b.pieces, pc)
}

func (b *builder) undersized() bool {
	return len(b.pieces) > 0 && b.p.size(b.text) < b.p.config.MinChunkSize
}

func (b *builder) flush() {
	if len(b.pieces) == 0 {
		return
	}
	draft := models.ChunkDraft{
		Text:      b.text,
		Oversized: b.p.size(b.text) > b.max(),
	}
	for _, pc := range b.pieces {
		if n := len(draft.Blocks); n == 0 || draft.Blocks[n-1] != pc.block {
			draft.Blocks = append(draft.Blocks, pc.block)
		}
		draft.HasTable = draft.HasTable || pc.table
	}
	b.drafts = append(b.drafts, draft)
	b.pieces = nil
	b.text = ""
}

func (b *builder) emit(pc piece) {
	b.flush()
	b.push(pc)
	b.flush()
}

func (b *builder) addTable(i int, block models.Block) {
	pc := piece{text: block.Text, block: i, table: true}
	if b.p.size(block.Text) > b.max() {
		if !b.p.config.SplitOversizedTables {
			b.emit(pc)
			return
		}
		parts := b.p.splitTable(block)
		b.expected[i] = strings.Join(parts, "")
		for _, part := range parts {
			b.emit(piece{text: part, block: i, table: true})
		}
		return
	}
	if !b.fits(pc) {
		b.flush()
	}
	b.push(pc)
}

func (b *builder) addText(i int, text string) {
	pc := piece{text: text, block: i}
	if b.fits(pc) {
		b.push(pc)
		return
	}
	if b.p.size(text) <= b.max() && !b.undersized() {
		b.flush()
		b.push(pc)
		return
	}
	b.pack(text, i, levelParagraph)
}

// pack adds text unit by unit, descending to finer units only when a unit
// is too large for any chunk or the open chunk is still below the minimum.
func (b *builder) pack(text string, i int, level splitLevel) {
	for _, unit := range units(text, level) {
		pc := piece{text: unit, block: i}
		if b.fits(pc) {
			b.push(pc)
			continue
		}
		if level < levelWord && (b.p.size(unit) > b.max() || b.undersized()) {
			b.pack(unit, i, level+1)
			continue
		}
		b.flush()
		b.push(pc)
	}
}

// splitTable cuts a flattened table between rows. Every part starts with the
// table's preamble lines; a single row that still does not fit becomes an
// oversized part of its own.
func (p *Processor) splitTable(block models.Block) []string {
	body := block.Text
	if block.Header != "" {
		body = strings.TrimPrefix(strings.TrimPrefix(body, block.Header), "\n")
	}
	rows := strings.Split(body, "\n")

	start := func() []string {
		if block.Header == "" {
			return nil
		}
		return []string{block.Header}
	}

	var parts []string
	cur := start()
	base := len(cur)
	for _, row := range rows {
		candidate := strings.Join(append(cur, row), "\n")
		if len(cur) > base && p.size(candidate) > p.config.MaxChunkSize {
			parts = append(parts, strings.Join(cur, "\n"))
			cur = start()
		}
		cur = append(cur, row)
	}
	if len(cur) > base {
		parts = append(parts, strings.Join(cur, "\n"))
	}
	return parts
}

// verify checks that the drafts hold exactly the item content, in order:
// ignoring whitespace, their concatenation equals that of the blocks.
func verify(blocks []models.Block, drafts []models.ChunkDraft, expected map[int]string) error {
	var want, got strings.Builder
	for i, b := range blocks {
		if e, ok := expected[i]; ok {
			want.WriteString(stripSpace(e))
			continue
		}
		want.WriteString(stripSpace(b.Text))
	}
	last := -1
	for n, d := range drafts {
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("%w: draft %d is empty", models.ErrInvariantViolation, n)
		}
		if len(d.Blocks) == 0 || d.Blocks[0] < last {
			return fmt.Errorf("%w: draft %d is out of block order", models.ErrInvariantViolation, n)
		}
		last = d.Blocks[len(d.Blocks)-1]
		got.WriteString(stripSpace(d.Text))
	}
	if want.String() != got.String() {
		return fmt.Errorf("%w: chunk text does not reconstruct the item", models.ErrInvariantViolation)
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
