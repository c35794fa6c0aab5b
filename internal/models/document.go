package models

import "fmt"

// FilingID identifies one company's annual report.
type FilingID struct {
	Ticker     string
	FiscalYear int
}

func (id FilingID) String() string {
	return fmt.Sprintf("%s_%d", id.Ticker, id.FiscalYear)
}

// RawFiling is a downloaded 10-K before any parsing.
type RawFiling struct {
	Ticker     string
	FiscalYear int
	Markup     string
	Source     string // path or URL the markup was read from
}

func (f RawFiling) ID() FilingID {
	return FilingID{Ticker: f.Ticker, FiscalYear: f.FiscalYear}
}

// ItemSpan is the byte range of one SEC item inside the filing markup.
type ItemSpan struct {
	Label   string // "item7", "item1a", "full_document"
	Number  string // "7", "1A"; empty for catch-all spans
	Title   string
	Start   int
	End     int
	Content string
}

// BlockKind tags the variant held by a Block.
type BlockKind int

const (
	BlockText BlockKind = iota + 1
	BlockTable
)

func (k BlockKind) Valid() bool {
	return k == BlockText || k == BlockTable
}

func (k BlockKind) String() string {
	switch k {
	case BlockText:
		return "text"
	case BlockTable:
		return "table"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Block is a normalized content unit of an item. Text blocks carry prose in
// Text. Table blocks carry the parsed Table and, once flattened, its linear
// form in Text. Header holds the column line when rows do not repeat it.
type Block struct {
	Kind   BlockKind
	Text   string
	Table  *Table
	Header string
}

func NewTextBlock(text string) Block {
	return Block{Kind: BlockText, Text: text}
}

func NewTableBlock(t *Table) Block {
	return Block{Kind: BlockTable, Table: t}
}

// TableCell is one td/th cell. ColSpan is at least 1.
type TableCell struct {
	Text    string
	ColSpan int
	Header  bool
}

type TableRow struct {
	Cells []TableCell
}

// Table is the preserved sub-tree of an HTML table.
type Table struct {
	Rows []TableRow
}

// Empty reports whether no cell of the table carries text.
func (t *Table) Empty() bool {
	if t == nil {
		return true
	}
	for _, row := range t.Rows {
		for _, cell := range row.Cells {
			if cell.Text != "" {
				return false
			}
		}
	}
	return true
}

// ChunkDraft is a chunk before the assembler attaches filing metadata.
type ChunkDraft struct {
	Text      string
	Blocks    []int // indexes into the item's block sequence
	HasTable  bool
	Oversized bool
}

// Chunk is a finalized, retrieval-ready unit.
type Chunk struct {
	ID         string `json:"id"`
	Ticker     string `json:"ticker"`
	FiscalYear int    `json:"fiscal_year"`
	Item       string `json:"item_label"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
	Blocks     []int  `json:"source_blocks,omitempty"`
	HasTable   bool   `json:"has_table,omitempty"`
	Oversized  bool   `json:"oversized,omitempty"`
}

// Key is the idempotency key used when upserting into the vector store.
func (c Chunk) Key() string {
	return ChunkKey(c.Ticker, c.FiscalYear, c.Item, c.Index)
}

// Citation is the label used when a retrieved chunk is quoted to the model.
func (c Chunk) Citation() string {
	return fmt.Sprintf("%s %d %s chunk %d", c.Ticker, c.FiscalYear, c.Item, c.Index)
}

func ChunkKey(ticker string, year int, item string, index int) string {
	return fmt.Sprintf("%s_%d_%s_%d", ticker, year, item, index)
}

// EmbeddedChunk pairs a chunk with its vector.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32
}

// SearchResult is a chunk returned by a similarity query.
type SearchResult struct {
	Chunk
	Similarity float64
	Metadata   map[string]interface{}
}
