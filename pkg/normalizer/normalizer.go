// Package normalizer turns the markup of one item span into an ordered
// sequence of text and table blocks.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/xhad/tenk/internal/models"
)

// DefaultNoiseSelectors are removed before any text is read.
var DefaultNoiseSelectors = []string{
	"script", "style", "head", "title", "meta", "link", "noscript", "template",
	"[hidden]", "[style*='display:none']", "[style*='display: none']",
	`ix\:header`,
}

// Config controls normalization. Zero fields take defaults.
type Config struct {
	NoiseSelectors []string
	// KeepPageNumbers disables removal of stand-alone page-number footers.
	KeepPageNumbers bool
	// KeepLeaders disables removal of dotted leaders and dash rules.
	KeepLeaders bool
}

type Option func(*Normalizer)

func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

type Normalizer struct {
	config Config
	logger *zap.Logger
}

func New(config Config, opts ...Option) *Normalizer {
	if len(config.NoiseSelectors) == 0 {
		config.NoiseSelectors = DefaultNoiseSelectors
	}
	n := &Normalizer{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var (
	pageNumber  = regexp.MustCompile(`^(?:(?i:page)\s*)?\d{1,3}$|^-\s*\d{1,3}\s*-$|^[A-Z]-\d{1,3}$`)
	leaders     = regexp.MustCompile(`(?:\.\s?){3,}`)
	rules       = regexp.MustCompile(`[-=_]{3,}`)
	blankLine   = regexp.MustCompile(`\n[ \t\r\f\v\x{00a0}]*\n`)
	formatChars = runes.Remove(runes.In(unicode.Cf))
)

// blockElements start and end a text block.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"body": true, "center": true, "dd": true, "div": true, "dl": true,
	"dt": true, "fieldset": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true,
	"pre": true, "section": true, "ul": true,
}

// Normalize parses the span content and returns its blocks in source order.
// Text blocks never contain markup; tables are kept whole as Table blocks.
func (n *Normalizer) Normalize(span models.ItemSpan) ([]models.Block, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(span.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s markup: %w", span.Label, err)
	}

	n.removeNoise(doc)

	w := &walker{clean: n.cleanText}
	for _, node := range doc.Nodes {
		w.walk(node)
	}
	w.flush()

	n.logger.Debug("normalized item",
		zap.String("item", span.Label),
		zap.Int("blocks", len(w.blocks)),
		zap.Int("tables", w.tables))

	return w.blocks, nil
}

func (n *Normalizer) removeNoise(doc *goquery.Document) {
	doc.Find(strings.Join(n.config.NoiseSelectors, ", ")).Remove()

	// Per-page "Table of Contents" back links.
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		text := strings.ToLower(strings.Join(strings.Fields(sel.Text()), " "))
		if text == "table of contents" || text == "index" {
			sel.Remove()
		}
	})

	if n.config.KeepPageNumbers {
		return
	}
	// Only whole blocks are page furniture; a number inside running prose
	// stays.
	doc.Find("p, div, center").Each(func(_ int, sel *goquery.Selection) {
		if sel.Closest("table").Length() > 0 || !standsAlone(sel.Nodes[0]) {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text != "" && pageNumber.MatchString(text) {
			sel.Remove()
		}
	})
}

// standsAlone reports whether node has no visible inline siblings.
func standsAlone(node *html.Node) bool {
	if node.Parent == nil {
		return true
	}
	for sib := node.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib == node {
			continue
		}
		switch sib.Type {
		case html.TextNode:
			if strings.TrimSpace(sib.Data) != "" {
				return false
			}
		case html.ElementNode:
			if blockElements[sib.Data] || sib.Data == "table" {
				continue
			}
			if strings.TrimSpace(textContent(sib)) != "" {
				return false
			}
		}
	}
	return true
}

// cleanText strips invisible format characters and layout filler and
// collapses whitespace. Words and numbers are left untouched.
func (n *Normalizer) cleanText(s string) string {
	if out, _, err := transform.String(formatChars, s); err == nil {
		s = out
	}
	s = strings.Join(strings.Fields(s), " ")
	if n.config.KeepLeaders {
		return s
	}
	s = leaders.ReplaceAllString(s, " ")
	s = rules.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

type walker struct {
	clean  func(string) string
	buf    strings.Builder
	blocks []models.Block
	tables int
}

func (w *walker) walk(node *html.Node) {
	switch node.Type {
	case html.DocumentNode:
		w.children(node)
	case html.TextNode:
		w.text(node.Data)
	case html.ElementNode:
		switch node.Data {
		case "table":
			w.flush()
			t := parseTable(node, w.clean)
			if !t.Empty() {
				w.blocks = append(w.blocks, models.NewTableBlock(t))
				w.tables++
			}
			return
		case "br":
			w.buf.WriteByte(' ')
			return
		}
		block := blockElements[node.Data]
		if block {
			w.flush()
		}
		w.children(node)
		if block {
			w.flush()
		}
	}
}

func (w *walker) children(node *html.Node) {
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// text handles plain-text filings too, where blank lines separate paragraphs.
func (w *walker) text(data string) {
	parts := blankLine.Split(data, -1)
	for i, part := range parts {
		if i > 0 {
			w.flush()
		}
		w.buf.WriteString(part)
	}
}

func (w *walker) flush() {
	text := w.clean(w.buf.String())
	w.buf.Reset()
	if text != "" {
		w.blocks = append(w.blocks, models.NewTextBlock(text))
	}
}

// maxColSpan guards against malformed colspan values.
const maxColSpan = 64

func parseTable(node *html.Node, clean func(string) string) *models.Table {
	t := &models.Table{}
	collectRows(node, t, clean)
	return t
}

func collectRows(node *html.Node, t *models.Table, clean func(string) string) {
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "tr":
			if row := parseRow(c, clean); len(row.Cells) > 0 {
				t.Rows = append(t.Rows, row)
			}
		case "table":
			// Nested tables are read as cell text by their parent row.
		default:
			collectRows(c, t, clean)
		}
	}
}

func parseRow(tr *html.Node, clean func(string) string) models.TableRow {
	var row models.TableRow
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		cell := models.TableCell{
			Text:    clean(textContent(c)),
			ColSpan: 1,
			Header:  c.Data == "th",
		}
		for _, attr := range c.Attr {
			if attr.Key != "colspan" {
				continue
			}
			if span, err := strconv.Atoi(strings.TrimSpace(attr.Val)); err == nil && span > 1 {
				cell.ColSpan = min(span, maxColSpan)
			}
		}
		row.Cells = append(row.Cells, cell)
	}
	return row
}

func textContent(node *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.Data == "br" {
				sb.WriteByte(' ')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
		if n.Type == html.ElementNode && (blockElements[n.Data] || n.Data == "tr" || n.Data == "td") {
			sb.WriteByte(' ')
		}
	}
	visit(node)
	return sb.String()
}
