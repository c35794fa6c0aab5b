// Package tables linearizes parsed filing tables into row-per-line text.
//
// Cells are laid on a virtual grid (colspans expanded), currency and
// percent fragments that EDGAR splits into their own cells are glued back
// onto the number they belong to, and each body row is rendered with its
// column labels so a row read in isolation still makes sense.
package tables

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xhad/tenk/internal/models"
)

const (
	DefaultRowPrefix   = "[Financial Metric]"
	DefaultFirstColumn = "Item"
	DefaultRowLabel    = "Metric"
)

type Config struct {
	// RepeatHeader renders every row as "label: column: value | ...". When
	// false the header is emitted once as a "Columns:" line.
	RepeatHeader bool
	RowPrefix    string
	FirstColumn  string
	// RowLabel replaces an empty first cell.
	RowLabel string
}

func DefaultConfig() Config {
	return Config{
		RepeatHeader: true,
		RowPrefix:    DefaultRowPrefix,
		FirstColumn:  DefaultFirstColumn,
		RowLabel:     DefaultRowLabel,
	}
}

type Flattener struct {
	config Config
}

func New(config Config) *Flattener {
	if config.FirstColumn == "" {
		config.FirstColumn = DefaultFirstColumn
	}
	if config.RowLabel == "" {
		config.RowLabel = DefaultRowLabel
	}
	return &Flattener{config: config}
}

// Flattened is the linear form of a table.
type Flattened struct {
	Caption string
	Header  []string
	Rows    [][]string
	// Preamble holds the lines printed before the rows (caption, columns
	// line). It is what gets repeated when a table is split.
	Preamble string
	Text     string

	// loose marks rows that could not be lined up under the header.
	loose []bool
}

// emptyCell stands in for a missing value when the header is printed once.
const emptyCell = "–"

// FlattenBlocks fills in Text (and Header) of every table block. Text blocks
// pass through unchanged.
func (f *Flattener) FlattenBlocks(blocks []models.Block) ([]models.Block, error) {
	out := make([]models.Block, 0, len(blocks))
	for i, b := range blocks {
		switch b.Kind {
		case models.BlockText:
			out = append(out, b)
		case models.BlockTable:
			fl := f.Flatten(b.Table)
			if fl.Text == "" {
				continue
			}
			b.Text = fl.Text
			b.Header = fl.Preamble
			out = append(out, b)
		default:
			return nil, fmt.Errorf("%w: block %d is %v", models.ErrUnknownBlockKind, i, b.Kind)
		}
	}
	return out, nil
}

// Flatten never fails: malformed tables degrade to plain " | " rows.
func (f *Flattener) Flatten(t *models.Table) Flattened {
	var fl Flattened
	if t.Empty() {
		return fl
	}

	rows := expand(t)
	for i := range rows {
		rows[i].compact = mergeSymbols(rows[i].cells)
	}
	rows = dropEmptyRows(rows)
	if len(rows) == 0 {
		return fl
	}

	if len(rows) > 1 && isGroupingRow(rows[0].cells, rows[1].cells) {
		fl.Caption = strings.Join(nonEmpty(rows[0].cells), " ")
		rows = rows[1:]
	}

	width := 0
	if len(rows) > 1 && hasHeader(rows) {
		width = len(rows[0].cells)
		fl.Header = forwardFill(rows[0].cells)
		rows = rows[1:]
	} else {
		for _, r := range rows {
			width = max(width, len(r.cells))
		}
	}

	body := make([][]string, len(rows))
	fl.loose = make([]bool, len(rows))
	for i, r := range rows {
		var ok bool
		body[i], ok = r.align(width)
		fl.loose[i] = !ok
	}

	keep := usedColumns(body, fl.loose, fl.Header, width)
	fl.Header = project(fl.Header, keep)
	for i, row := range body {
		if fl.loose[i] {
			fl.Rows = append(fl.Rows, nonEmpty(row))
			continue
		}
		fl.Rows = append(fl.Rows, project(row, keep))
	}
	if fl.Header != nil {
		fl.Header = f.nameColumns(fl.Header)
	}

	f.render(&fl)
	return fl
}

func (f *Flattener) render(fl *Flattened) {
	var pre []string
	if fl.Caption != "" {
		pre = append(pre, fl.Caption)
	}
	if fl.Header != nil && !f.config.RepeatHeader {
		pre = append(pre, "Columns: "+strings.Join(fl.Header, " | "))
	}
	fl.Preamble = strings.Join(pre, "\n")

	lines := append([]string(nil), pre...)
	for i, row := range fl.Rows {
		header := fl.Header
		if fl.loose[i] {
			header = nil
		}
		if line := f.renderRow(header, row); line != "" {
			lines = append(lines, line)
		}
	}
	fl.Text = strings.Join(lines, "\n")
}

// renderRow pairs row with header when there is one. Without a header the
// non-empty cells are joined as they come.
func (f *Flattener) renderRow(header, row []string) string {
	var line string
	switch {
	case header != nil:
		label := row[0]
		if label == "" {
			label = f.config.RowLabel
		}
		line = label
		if len(nonEmpty(row[1:])) == 0 {
			break
		}
		var parts []string
		for j := 1; j < len(row); j++ {
			switch {
			case !f.config.RepeatHeader && row[j] == "":
				parts = append(parts, emptyCell)
			case !f.config.RepeatHeader:
				parts = append(parts, row[j])
			case row[j] != "":
				parts = append(parts, header[j]+": "+row[j])
			}
		}
		if f.config.RepeatHeader {
			line += ": " + strings.Join(parts, " | ")
		} else {
			line += " | " + strings.Join(parts, " | ")
		}
	default:
		cells := nonEmpty(row)
		if len(cells) == 0 {
			return ""
		}
		line = strings.Join(cells, " | ")
	}
	if f.config.RowPrefix != "" {
		line = f.config.RowPrefix + " " + line
	}
	return line
}

// nameColumns labels the first column and makes every header unique.
func (f *Flattener) nameColumns(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for j, h := range header {
		switch {
		case j == 0:
			h = f.config.FirstColumn
		case h == "":
			h = fmt.Sprintf("Column %d", j)
		}
		if n := seen[h]; n > 0 {
			out[j] = fmt.Sprintf("%s_%d", h, n)
		} else {
			out[j] = h
		}
		seen[h]++
	}
	return out
}

type gridRow struct {
	cells []string
	// compact is cells without the slots emptied by symbol merging.
	compact []string
	th      bool
}

// expand lays cells on a virtual grid. A cell spanning n columns fills the
// first slot; the others stay empty so values line up under their header.
func expand(t *models.Table) []gridRow {
	rows := make([]gridRow, 0, len(t.Rows))
	for _, row := range t.Rows {
		r := gridRow{th: len(row.Cells) > 0}
		for _, cell := range row.Cells {
			r.cells = append(r.cells, cell.Text)
			for k := 1; k < cell.ColSpan; k++ {
				r.cells = append(r.cells, "")
			}
			if !cell.Header {
				r.th = false
			}
		}
		rows = append(rows, r)
	}
	return rows
}

// align fits the row to width columns. A wider row fits when its overflow is
// empty, either as laid out or once merged symbol slots are dropped;
// otherwise it cannot be paired with the header.
func (r gridRow) align(width int) ([]string, bool) {
	for _, cells := range [][]string{r.cells, r.compact} {
		if len(cells) > width && len(nonEmpty(cells[width:])) > 0 {
			continue
		}
		out := make([]string, width)
		copy(out, cells)
		return out, true
	}
	return r.cells, false
}

var (
	currencySymbol = regexp.MustCompile(`^[$€£¥]$`)
	closingSymbol  = regexp.MustCompile(`^(?:%+|\)%?|\)?%\)?)$`)
)

// mergeSymbols glues "$" onto the next value and "%" or ")" onto the
// previous one, in place. It returns the row without the emptied slots.
func mergeSymbols(row []string) []string {
	freed := make([]bool, len(row))
	for i, v := range row {
		switch {
		case currencySymbol.MatchString(v):
			for j := i + 1; j < len(row); j++ {
				if row[j] != "" {
					row[j] = v + row[j]
					row[i] = ""
					freed[i] = true
					break
				}
			}
		case closingSymbol.MatchString(v):
			for k := i - 1; k >= 0; k-- {
				if row[k] != "" {
					row[k] += v
					row[i] = ""
					freed[i] = true
					break
				}
			}
		}
	}

	compact := make([]string, 0, len(row))
	for i, v := range row {
		if !freed[i] {
			compact = append(compact, v)
		}
	}
	return compact
}

func dropEmptyRows(rows []gridRow) []gridRow {
	var out []gridRow
	for _, r := range rows {
		if len(nonEmpty(r.cells)) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// isGroupingRow detects a spanning label row ("Years ended September 28,")
// sitting above the real column header.
func isGroupingRow(first, second []string) bool {
	a := len(nonEmpty(first[1:]))
	b := len(nonEmpty(second[1:]))
	return a < 2 && b > a && !hasValues(first)
}

var (
	numericValue = regexp.MustCompile(`^[$€£¥(\-–—]*\s*\d[\d,]*(?:\.\d+)?\s*[)%]*$`)
	yearValue    = regexp.MustCompile(`^(?:19|20)\d{2}$`)
)

func isValue(s string) bool {
	return numericValue.MatchString(s) && !yearValue.MatchString(s)
}

func hasValues(row []string) bool {
	for _, v := range row[1:] {
		if isValue(v) {
			return true
		}
	}
	return false
}

// hasHeader decides whether the first row labels the columns.
func hasHeader(rows []gridRow) bool {
	first := rows[0]
	if first.th {
		return true
	}
	if hasValues(first.cells) {
		return false
	}
	if first.cells[0] == "" {
		return true
	}
	for _, r := range rows[1:] {
		if hasValues(r.cells) {
			return true
		}
	}
	return false
}

func forwardFill(header []string) []string {
	out := append([]string(nil), header...)
	for j := 2; j < len(out); j++ {
		if out[j] == "" {
			out[j] = out[j-1]
		}
	}
	return out
}

// usedColumns keeps the label column and every column with a body value.
// A table with no body keeps its non-empty header columns.
func usedColumns(body [][]string, loose []bool, header []string, width int) []int {
	keep := []int{0}
	for j := 1; j < width; j++ {
		used := false
		for i, row := range body {
			if !loose[i] && row[j] != "" {
				used = true
				break
			}
		}
		if !used && len(body) == 0 && header != nil && header[j] != "" {
			used = true
		}
		if used {
			keep = append(keep, j)
		}
	}
	return keep
}

func project(row []string, keep []int) []string {
	if row == nil {
		return nil
	}
	out := make([]string, len(keep))
	for i, j := range keep {
		out[i] = row[j]
	}
	return out
}

func nonEmpty(row []string) []string {
	var out []string
	for _, v := range row {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
