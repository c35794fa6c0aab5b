package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tenk/internal/models"
)

func normalize(t *testing.T, n *Normalizer, content string) []models.Block {
	t.Helper()
	blocks, err := n.Normalize(models.ItemSpan{Label: "item7", Content: content})
	require.NoError(t, err)
	return blocks
}

func TestNormalizeParagraphsAndTables(t *testing.T) {
	content := `<p><b>Item 8. Financial Statements</b></p>
<div><span>Net sales were strong.</span> <span>Margins held.</span></div>
<table>
  <tr><th></th><th>2019</th><th>2018</th></tr>
  <tr><td>Net sales</td><td>$</td><td>260,174</td></tr>
</table>
<p>See Note 2.</p>`

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 4)
	assert.Equal(t, models.BlockText, blocks[0].Kind)
	assert.Equal(t, "Item 8. Financial Statements", blocks[0].Text)
	assert.Equal(t, "Net sales were strong. Margins held.", blocks[1].Text)

	require.Equal(t, models.BlockTable, blocks[2].Kind)
	table := blocks[2].Table
	require.Len(t, table.Rows, 2)
	assert.True(t, table.Rows[0].Cells[1].Header)
	assert.Equal(t, "2019", table.Rows[0].Cells[1].Text)
	assert.Equal(t, "260,174", table.Rows[1].Cells[2].Text)

	assert.Equal(t, "See Note 2.", blocks[3].Text)
}

func TestNormalizeStripsNoise(t *testing.T) {
	content := `<div style="display:none"><ix:header>hidden facts</ix:header></div>
<script>var x = 1;</script>
<p>Visible text.</p>
<p style="text-align:center">12</p>
<p><a href="#toc">Table of Contents</a></p>
<p>More text.</p>`

	blocks := normalize(t, New(Config{}), content)

	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	assert.Equal(t, []string{"Visible text.", "More text."}, texts)
}

func TestNormalizeKeepsPageNumbersWhenAsked(t *testing.T) {
	blocks := normalize(t, New(Config{KeepPageNumbers: true}), `<p>Text.</p><p>12</p>`)
	require.Len(t, blocks, 2)
	assert.Equal(t, "12", blocks[1].Text)
}

func TestNormalizeKeepsNumbersInsideProse(t *testing.T) {
	content := `<div><span>We operate </span><span style="font-weight:bold">512</span><span> retail stores in </span><span>25</span><span> countries.</span></div>
<div>Our headcount rose to <div>137</div> thousand.</div>
<div style="text-align:center">- 14 -</div>`

	blocks := normalize(t, New(Config{}), content)

	var texts []string
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	require.NotEmpty(t, texts)
	assert.Equal(t, "We operate 512 retail stores in 25 countries.", texts[0])
	assert.Contains(t, strings.Join(texts, " "), "137")
	assert.NotContains(t, strings.Join(texts, " "), "14")
}

func TestNormalizeLeavesTableNumbersAlone(t *testing.T) {
	content := `<table><tr><td><span>Shares</span></td><td><span>12</span></td></tr></table>`

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 1)
	assert.Equal(t, "12", blocks[0].Table.Rows[0].Cells[1].Text)
}

func TestNormalizeWhitespaceAndFormatCharacters(t *testing.T) {
	content := "<p>Re\u00adserves&nbsp;&nbsp;rose\u200b  by\n\t$1,234.5 million</p>"

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 1)
	assert.Equal(t, "Reserves rose by $1,234.5 million", blocks[0].Text)
}

func TestNormalizeRemovesLeadersAndRules(t *testing.T) {
	content := `<p>Risk Factors . . . . . . . 12</p><p>__________</p><p>Body.</p>`

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 2)
	assert.Equal(t, "Risk Factors 12", blocks[0].Text)
	assert.Equal(t, "Body.", blocks[1].Text)

	kept := normalize(t, New(Config{KeepLeaders: true}), `<p>a ... b</p>`)
	require.Len(t, kept, 1)
	assert.Equal(t, "a ... b", kept[0].Text)
}

func TestNormalizePlainTextParagraphs(t *testing.T) {
	content := "ITEM 1. BUSINESS\n\nThe Company makes things.\nIt sells them.\n\n\nIt employs people."

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 3)
	assert.Equal(t, "ITEM 1. BUSINESS", blocks[0].Text)
	assert.Equal(t, "The Company makes things. It sells them.", blocks[1].Text)
	assert.Equal(t, "It employs people.", blocks[2].Text)
}

func TestNormalizeColSpanAndEmptyTables(t *testing.T) {
	content := `<table><tr><td colspan="3">Years ended</td></tr><tr><td>a</td><td colspan="x">b</td><td colspan="999">c</td></tr></table>
<table><tr><td>&nbsp;</td></tr></table>`

	blocks := normalize(t, New(Config{}), content)

	require.Len(t, blocks, 1)
	rows := blocks[0].Table.Rows
	assert.Equal(t, 3, rows[0].Cells[0].ColSpan)
	assert.Equal(t, 1, rows[1].Cells[1].ColSpan)
	assert.Equal(t, maxColSpan, rows[1].Cells[2].ColSpan)
}

func TestNormalizeBlocksContainNoMarkup(t *testing.T) {
	content := `<div><p>One <i>two</i> <b>three</b></p><ul><li>four</li><li>five</li></ul></div>`

	blocks := normalize(t, New(Config{}), content)

	for _, b := range blocks {
		assert.False(t, strings.ContainsAny(b.Text, "<>"), b.Text)
	}
	require.Len(t, blocks, 3)
	assert.Equal(t, "One two three", blocks[0].Text)
	assert.Equal(t, "four", blocks[1].Text)
}
