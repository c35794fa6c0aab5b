package pipeline_test

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/pipeline"
	"github.com/xhad/tenk/pkg/processor"
)

const tenK = `<html><head><title>aapl-20190928</title><style>p{margin:0}</style></head><body>
<table>
<tr><td><a href="#item1">Item 1.</a></td><td>Business</td><td>1</td></tr>
<tr><td><a href="#item7">Item 7.</a></td><td>Management's Discussion and Analysis</td><td>20</td></tr>
<tr><td><a href="#item8">Item 8.</a></td><td>Financial Statements</td><td>30</td></tr>
</table>
<div><span>PART I</span></div>
<div id="item1"><b>Item 1. Business</b></div>
<p>The Company designs, manufactures and markets smartphones, personal computers, tablets, wearables and accessories, and sells a variety of related services. The Company's fiscal year is the 52- or 53-week period that ends on the last Saturday of September.</p>
<p>The Company is a California corporation established in 1977. It sells its products worldwide through its retail and online stores and its direct sales force, as well as through third-party cellular network carriers, wholesalers, retailers and resellers.</p>
<p style="text-align:center">3</p>
<div id="item7"><b>ITEM&#160;7. MANAGEMENT'S DISCUSSION AND ANALYSIS</b></div>
<p>Total net sales decreased 2% or $5.4 billion during 2019 compared to 2018. The weakness in foreign currencies relative to the U.S. dollar had an unfavorable impact on net sales during 2019.</p>
<div id="item8"><b>Item 8. Financial Statements and Supplementary Data</b></div>
<p>CONSOLIDATED STATEMENTS OF OPERATIONS (In millions)</p>
<table>
<tr><td></td><td colspan="6">Years ended</td></tr>
<tr><td></td><td colspan="2">September 28, 2019</td><td colspan="2">September 29, 2018</td><td colspan="2">September 30, 2017</td></tr>
<tr><td>Net sales</td><td>$</td><td>260,174</td><td>$</td><td>265,595</td><td>$</td><td>229,234</td></tr>
<tr><td>Cost of sales</td><td></td><td>161,782</td><td></td><td>163,756</td><td></td><td>141,048</td></tr>
<tr><td>Gross margin</td><td></td><td>98,392</td><td></td><td>101,839</td><td></td><td>88,186</td></tr>
</table>
<p>SIGNATURES</p>
<p>Pursuant to the requirements of Section 13 or 15(d) of the Securities Exchange Act of 1934.</p>
</body></html>`

func newPipeline(t *testing.T, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	config := pipeline.DefaultConfig()
	config.Processor = processor.ProcessorConfig{MaxChunkSize: 300, MinChunkSize: 50}
	p, err := pipeline.New(config, opts...)
	require.NoError(t, err)
	return p
}

func filing(markup string) models.RawFiling {
	return models.RawFiling{Ticker: "AAPL", FiscalYear: 2019, Markup: markup, Source: "testdata"}
}

func itemLabels(r *models.FilingResult) []string {
	var out []string
	for _, item := range r.Items {
		out = append(out, item.Span.Label)
	}
	return out
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestProcessProseAndTable(t *testing.T) {
	result, err := newPipeline(t).Process(filing(tenK))
	require.NoError(t, err)

	assert.Equal(t, models.StatusChunked, result.Status)
	assert.False(t, result.Degraded)
	require.Equal(t, []string{"item1", "item7", "item8"}, itemLabels(result))

	for _, item := range result.Items {
		var blocks, chunks strings.Builder
		for _, b := range item.Blocks {
			blocks.WriteString(b.Text)
		}
		for i, c := range item.Chunks {
			assert.Equal(t, i, c.Index, "indexes are dense")
			assert.Equal(t, item.Span.Label, c.Item)
			assert.Equal(t, "AAPL", c.Ticker)
			assert.Equal(t, 2019, c.FiscalYear)
			assert.Equal(t, utf8.RuneCountInString(c.Text), c.CharCount)
			if !c.Oversized {
				assert.LessOrEqual(t, c.CharCount, 300, c.Key())
			}
			chunks.WriteString(c.Text)
		}
		assert.Equal(t, stripSpace(blocks.String()), stripSpace(chunks.String()), "%s reconstructs", item.Span.Label)
	}

	item1 := result.Items[0]
	assert.Greater(t, len(item1.Chunks), 1, "item 1 prose exceeds one chunk")
	assert.NotContains(t, item1.Chunks[len(item1.Chunks)-1].Text, "ITEM")

	var table *models.Chunk
	for i, c := range result.Items[2].Chunks {
		if c.HasTable {
			require.Nil(t, table, "the table lands in exactly one chunk")
			table = &result.Items[2].Chunks[i]
		}
	}
	require.NotNil(t, table)
	assert.Contains(t, table.Text, "Years ended")
	assert.Contains(t, table.Text, "$260,174")
	assert.Contains(t, table.Text, "161,782")
	assert.NotContains(t, result.Items[2].Chunks[len(result.Items[2].Chunks)-1].Text, "Pursuant to")
}

func TestProcessSkipsTableOfContents(t *testing.T) {
	result, err := newPipeline(t).Process(filing(tenK))
	require.NoError(t, err)

	item7 := result.Items[1]
	require.NotEmpty(t, item7.Chunks)
	assert.True(t, strings.HasPrefix(item7.Chunks[0].Text, "ITEM 7. MANAGEMENT'S DISCUSSION"))
	for _, c := range item7.Chunks {
		assert.NotContains(t, c.Text, "Financial Statements")
	}
}

func TestProcessDegraded(t *testing.T) {
	result, err := newPipeline(t).Process(filing("<p>Annual report without any recognizable item headings.</p>"))
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, models.StatusChunked, result.Status)
	require.Equal(t, []string{"full_document"}, itemLabels(result))
	assert.Equal(t, "AAPL_2019_full_document_0", result.Items[0].Chunks[0].Key())
}

func TestProcessEmptyFiling(t *testing.T) {
	for _, markup := range []string{"", "  \n", "<html><body><script>x()</script></body></html>"} {
		result, err := newPipeline(t).Process(filing(markup))
		require.NoError(t, err)
		assert.Equal(t, models.StatusEmpty, result.Status, "%q", markup)
		assert.Empty(t, result.Chunks())
	}
}

func TestProcessFullSubmission(t *testing.T) {
	submission := "<SEC-DOCUMENT>\n<DOCUMENT>\n<TYPE>10-K\n<TEXT>\n" + tenK + "\n</TEXT>\n</DOCUMENT>\n" +
		"<DOCUMENT>\n<TYPE>EX-21.1\n<TEXT>\n<p>Item 1. Subsidiaries of Apple Operations International</p>\n</TEXT>\n</DOCUMENT>\n</SEC-DOCUMENT>"

	result, err := newPipeline(t).Process(filing(submission))
	require.NoError(t, err)

	assert.Equal(t, []string{"item1", "item7", "item8"}, itemLabels(result))
	for _, c := range result.Chunks() {
		assert.NotContains(t, c.Text, "Subsidiaries")
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	first, err := p.Process(filing(tenK))
	require.NoError(t, err)
	second, err := p.Process(filing(tenK))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Chunks()[0].ID, processor.ChunkID("AAPL_2019_item1_0"))
}

func TestNewRejectsBadConfig(t *testing.T) {
	config := pipeline.DefaultConfig()
	config.Processor = processor.ProcessorConfig{MaxChunkSize: 100, MinChunkSize: 200}
	_, err := pipeline.New(config)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestProcessAllKeepsInputOrder(t *testing.T) {
	var calls atomic.Int32
	p := newPipeline(t, pipeline.WithProgress(func(pipeline.Outcome) { calls.Add(1) }))

	filings := []models.RawFiling{
		{Ticker: "AAPL", FiscalYear: 2019, Markup: tenK},
		{Ticker: "MSFT", FiscalYear: 2020, Markup: ""},
		{Ticker: "GOOG", FiscalYear: 2021, Markup: "<p>Item 1. Business</p><p>Search.</p>"},
	}
	outcomes := p.ProcessAll(context.Background(), filings, 2)

	require.Len(t, outcomes, 3)
	assert.Equal(t, int32(3), calls.Load())
	for i, out := range outcomes {
		assert.Equal(t, filings[i].ID(), out.Filing)
		require.NoError(t, out.Err)
		assert.Equal(t, filings[i].ID(), out.Result.Filing)
	}
	assert.Equal(t, models.StatusEmpty, outcomes[1].Result.Status)
	assert.Equal(t, []string{"item1"}, itemLabels(outcomes[2].Result))
}

func TestProcessAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := newPipeline(t).ProcessAll(ctx, []models.RawFiling{filing(tenK), filing(tenK)}, 1)
	for _, out := range outcomes {
		assert.ErrorIs(t, out.Err, context.Canceled)
		assert.Nil(t, out.Result)
	}
}
