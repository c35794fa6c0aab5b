// Package segmenter splits 10-K markup into SEC item spans.
//
// Headings are located with a structural pattern (start of line or right
// after a tag close) and fed, in document order, to a two-state machine
// (seeking an item, inside an item body). Filings list every item in their
// table of contents before the real section, so only the last heading found
// for each label is kept.
package segmenter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xhad/tenk/internal/models"
)

// ItemDefinition is one recognized SEC item.
type ItemDefinition struct {
	Number string `yaml:"number"`
	Title  string `yaml:"title"`
}

// Label is the item key used in chunk metadata, e.g. "item7a".
func (d ItemDefinition) Label() string {
	return "item" + strings.ToLower(d.Number)
}

// DefaultItems follows the Form 10-K structure.
var DefaultItems = []ItemDefinition{
	{"1", "Business"},
	{"1A", "Risk Factors"},
	{"1B", "Unresolved Staff Comments"},
	{"1C", "Cybersecurity"},
	{"2", "Properties"},
	{"3", "Legal Proceedings"},
	{"4", "Mine Safety Disclosures"},
	{"5", "Market for Registrant's Common Equity"},
	{"6", "Selected Financial Data"},
	{"7", "Management's Discussion and Analysis"},
	{"7A", "Quantitative and Qualitative Disclosures About Market Risk"},
	{"8", "Financial Statements and Supplementary Data"},
	{"9", "Changes in and Disagreements with Accountants"},
	{"9A", "Controls and Procedures"},
	{"9B", "Other Information"},
	{"9C", "Disclosure Regarding Foreign Jurisdictions that Prevent Inspections"},
	{"10", "Directors, Executive Officers and Corporate Governance"},
	{"11", "Executive Compensation"},
	{"12", "Security Ownership of Certain Beneficial Owners and Management"},
	{"13", "Certain Relationships and Related Transactions"},
	{"14", "Principal Accountant Fees and Services"},
	{"15", "Exhibits and Financial Statement Schedules"},
	{"16", "Form 10-K Summary"},
}

// OutsidePolicy decides what happens to content outside every item.
type OutsidePolicy string

const (
	OutsideDiscard OutsidePolicy = "discard"
	OutsideKeep    OutsidePolicy = "keep"
)

const (
	DefaultDegradedLabel = "full_document"
	DefaultPreambleLabel = "preamble"
	DefaultOtherLabel    = "other"

	// space matches the separators seen between "Item" and its number in
	// EDGAR markup, including escaped and literal non-breaking spaces.
	space = `(?:\s|&nbsp;|&#160;|&#xa0;|\x{00a0})`

	// DefaultHeadingPattern must expose a "num" group; "head" marks where the
	// span starts.
	DefaultHeadingPattern = `(?im)(?:^|>)(?:[ \t]|&nbsp;|&#160;|&#xa0;|\x{00a0})*(?P<head>item)` + space + `+(?P<num>\d{1,2}[a-c]?)\b`

	DefaultEndPattern = `(?im)(?:^|>)(?:[ \t]|&nbsp;|&#160;|&#xa0;|\x{00a0})*(?P<head>signatures?)` + space + `*(?:<|$)`
)

// Config controls segmentation. Zero fields take defaults.
type Config struct {
	Items          []ItemDefinition
	HeadingPattern string
	EndPatterns    []string
	DegradedLabel  string
	Outside        OutsidePolicy
	PreambleLabel  string
	OtherLabel     string
}

func DefaultConfig() Config {
	return Config{
		Items:          DefaultItems,
		HeadingPattern: DefaultHeadingPattern,
		EndPatterns:    []string{DefaultEndPattern},
		DegradedLabel:  DefaultDegradedLabel,
		Outside:        OutsideDiscard,
		PreambleLabel:  DefaultPreambleLabel,
		OtherLabel:     DefaultOtherLabel,
	}
}

type Segmenter struct {
	config  Config
	heading *regexp.Regexp
	numIdx  int
	headIdx int
	ends    []*regexp.Regexp
	items   map[string]ItemDefinition // keyed by upper-case number
}

func New(config Config) (*Segmenter, error) {
	def := DefaultConfig()
	if len(config.Items) == 0 {
		config.Items = def.Items
	}
	if config.HeadingPattern == "" {
		config.HeadingPattern = def.HeadingPattern
	}
	if config.EndPatterns == nil {
		config.EndPatterns = def.EndPatterns
	}
	if config.DegradedLabel == "" {
		config.DegradedLabel = def.DegradedLabel
	}
	if config.Outside == "" {
		config.Outside = def.Outside
	}
	if config.PreambleLabel == "" {
		config.PreambleLabel = def.PreambleLabel
	}
	if config.OtherLabel == "" {
		config.OtherLabel = def.OtherLabel
	}
	if config.Outside != OutsideDiscard && config.Outside != OutsideKeep {
		return nil, fmt.Errorf("%w: outside policy %q", models.ErrInvalidConfig, config.Outside)
	}

	heading, err := regexp.Compile(config.HeadingPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: heading pattern: %v", models.ErrInvalidConfig, err)
	}
	numIdx := heading.SubexpIndex("num")
	if numIdx < 0 {
		return nil, fmt.Errorf("%w: heading pattern has no (?P<num>...) group", models.ErrInvalidConfig)
	}

	ends := make([]*regexp.Regexp, 0, len(config.EndPatterns))
	for _, p := range config.EndPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: end pattern %q: %v", models.ErrInvalidConfig, p, err)
		}
		ends = append(ends, re)
	}

	items := make(map[string]ItemDefinition, len(config.Items))
	for _, d := range config.Items {
		items[strings.ToUpper(d.Number)] = d
	}

	return &Segmenter{
		config:  config,
		heading: heading,
		numIdx:  numIdx,
		headIdx: heading.SubexpIndex("head"),
		ends:    ends,
		items:   items,
	}, nil
}

// Segment returns the item spans of markup in document order. When no item
// heading is recognized the whole markup comes back as one degraded span.
func (s *Segmenter) Segment(markup string) []models.ItemSpan {
	markers := s.scan(markup)

	hasItem := false
	for _, m := range markers {
		if m.kind == markerItem {
			hasItem = true
			break
		}
	}
	if !hasItem {
		return []models.ItemSpan{{
			Label:   s.config.DegradedLabel,
			Start:   0,
			End:     len(markup),
			Content: markup,
		}}
	}

	m := &machine{
		config: s.config,
		markup: markup,
		used:   make(map[string]int),
	}
	for _, mk := range markers {
		m.step(mk)
	}
	m.finish(len(markup))
	return m.spans
}

// Degraded reports whether spans came from a document without item headings.
func (s *Segmenter) Degraded(spans []models.ItemSpan) bool {
	return len(spans) == 1 && spans[0].Label == s.config.DegradedLabel && spans[0].Number == ""
}

type markerKind int

const (
	markerItem markerKind = iota
	markerEnd
)

type marker struct {
	kind markerKind
	pos  int
	item ItemDefinition
}

// scan finds the authoritative (last) heading of every item and every end
// marker, sorted by position.
func (s *Segmenter) scan(markup string) []marker {
	last := make(map[string]marker)
	for _, loc := range s.heading.FindAllStringSubmatchIndex(markup, -1) {
		numStart, numEnd := loc[2*s.numIdx], loc[2*s.numIdx+1]
		if numStart < 0 {
			continue
		}
		def, ok := s.items[strings.ToUpper(markup[numStart:numEnd])]
		if !ok {
			continue
		}
		pos := startOf(loc, s.headIdx)
		if !leadsBlock(markup, pos) {
			continue
		}
		last[def.Label()] = marker{kind: markerItem, pos: pos, item: def}
	}

	markers := make([]marker, 0, len(last)+1)
	for _, m := range last {
		markers = append(markers, m)
	}

	for _, re := range s.ends {
		locs := re.FindAllStringSubmatchIndex(markup, -1)
		if len(locs) == 0 {
			continue
		}
		loc := locs[len(locs)-1]
		markers = append(markers, marker{kind: markerEnd, pos: startOf(loc, re.SubexpIndex("head"))})
	}

	sort.Slice(markers, func(i, j int) bool {
		return markers[i].pos < markers[j].pos
	})
	return markers
}

// blockTags end a line of visible text. Any other tag is inline.
var blockTags = map[string]bool{
	"address": true, "article": true, "blockquote": true, "body": true,
	"br": true, "center": true, "dd": true, "div": true, "document": true,
	"dt": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "hr": true, "html": true, "li": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "tbody": true, "td": true,
	"text": true, "th": true, "thead": true, "tr": true, "ul": true,
}

// maxLookback bounds the backwards walk of leadsBlock.
const maxLookback = 4096

// leadsBlock reports whether no visible text precedes pos within its line:
// walking back from pos, only whitespace and inline tags may appear before
// a newline, a block tag or the start of the markup. A cross-reference such
// as `As discussed in <a href="#i7">Item 7</a>` fails this test.
func leadsBlock(markup string, pos int) bool {
	floor := max(0, pos-maxLookback)
	end := pos // exclusive end of the text run being read
	for i := pos; i > floor; i-- {
		switch markup[i-1] {
		case '\n':
			return invisible(markup[i:end])
		case '>':
			open := strings.LastIndexByte(markup[floor:i-1], '<')
			if open < 0 {
				continue
			}
			open += floor
			if !invisible(markup[i:end]) {
				return false
			}
			if blockTags[tagName(markup[open+1:i-1])] {
				return true
			}
			i = open + 1
			end = open
		}
	}
	return invisible(markup[floor:end])
}

// tagName returns the lower-case element name of a tag body such as
// `/td` or `a href="#x"`.
func tagName(body string) string {
	body = strings.TrimPrefix(body, "/")
	end := strings.IndexFunc(body, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if end >= 0 {
		body = body[:end]
	}
	return strings.ToLower(body)
}

var nbsp = strings.NewReplacer("&nbsp;", " ", "&#160;", " ", "&#xa0;", " ", "&#xA0;", " ")

func invisible(s string) bool {
	return strings.TrimSpace(nbsp.Replace(s)) == ""
}

func startOf(loc []int, group int) int {
	if group > 0 && loc[2*group] >= 0 {
		return loc[2*group]
	}
	return loc[0]
}

type state int

const (
	seekingItem state = iota
	inItemBody
)

type machine struct {
	config   Config
	markup   string
	state    state
	open     marker
	openAt   int
	seenItem bool
	used     map[string]int
	spans    []models.ItemSpan
}

func (m *machine) step(mk marker) {
	switch m.state {
	case seekingItem:
		if mk.kind == markerItem {
			m.emitOutside(m.openAt, mk.pos)
			m.enter(mk)
		}
		// An end marker while outside every item changes nothing.
	case inItemBody:
		m.closeItem(mk.pos)
		switch mk.kind {
		case markerItem:
			m.enter(mk)
		case markerEnd:
			m.state = seekingItem
			m.openAt = mk.pos
		}
	}
}

func (m *machine) finish(end int) {
	switch m.state {
	case inItemBody:
		m.closeItem(end)
	case seekingItem:
		m.emitOutside(m.openAt, end)
	}
}

func (m *machine) enter(mk marker) {
	m.state = inItemBody
	m.open = mk
	m.openAt = mk.pos
	m.seenItem = true
}

func (m *machine) closeItem(end int) {
	m.spans = append(m.spans, models.ItemSpan{
		Label:   m.open.item.Label(),
		Number:  m.open.item.Number,
		Title:   m.open.item.Title,
		Start:   m.openAt,
		End:     end,
		Content: m.markup[m.openAt:end],
	})
}

func (m *machine) emitOutside(start, end int) {
	if m.config.Outside != OutsideKeep || start >= end {
		return
	}
	content := m.markup[start:end]
	if strings.TrimSpace(content) == "" {
		return
	}

	label := m.config.PreambleLabel
	if m.seenItem {
		label = m.config.OtherLabel
	}
	// Labels namespace chunk keys, so a second outside region needs its own.
	m.used[label]++
	if n := m.used[label]; n > 1 {
		label = fmt.Sprintf("%s_%d", label, n)
	}

	m.spans = append(m.spans, models.ItemSpan{
		Label:   label,
		Start:   start,
		End:     end,
		Content: content,
	})
}

var (
	documentBlock = regexp.MustCompile(`(?is)<DOCUMENT>(.*?)</DOCUMENT>`)
	documentType  = regexp.MustCompile(`(?i)<TYPE>([^\s<]+)`)
)

// ExtractPrimaryDocument isolates the document of the given form type (e.g.
// "10-K") from an EDGAR full-submission file. Markup without <DOCUMENT>
// envelopes, or without a matching one, is returned unchanged with ok=false.
func ExtractPrimaryDocument(raw, form string) (string, bool) {
	for _, m := range documentBlock.FindAllStringSubmatch(raw, -1) {
		t := documentType.FindStringSubmatch(m[1])
		if t == nil {
			continue
		}
		if strings.EqualFold(t[1], form) {
			return m[1], true
		}
	}
	return raw, false
}
