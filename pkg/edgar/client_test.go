package edgar_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/edgar"
	"github.com/xhad/tenk/pkg/retry"
)

const (
	tickersJSON = `{"0":{"cik_str":320193,"ticker":"AAPL","title":"Apple Inc."},
		"1":{"cik_str":789019,"ticker":"MSFT","title":"MICROSOFT CORP"}}`

	submissionsJSON = `{"cik":"320193","filings":{"recent":{
		"accessionNumber":["0000320193-20-000096","0000320193-19-000119","0000320193-19-000066","0000320193-18-000145"],
		"filingDate":["2020-10-30","2019-10-31","2019-07-31","2018-11-05"],
		"reportDate":["2020-09-26","2019-09-28","2019-06-29",""],
		"form":["10-K","10-K","10-Q","10-K"],
		"primaryDocument":["aapl-20200926.htm","a10-k20199282019.htm","a10-q20196292019.htm",""]}}}`

	indexHTML = `<html><body><table class="tableFile" summary="Document Format Files">
		<tr><th>Seq</th><th>Description</th><th>Document</th><th>Type</th><th>Size</th></tr>
		<tr><td>1</td><td>10-K</td><td><a href="/ix?doc=/Archives/edgar/data/320193/000032019318000145/a10-k20189292018.htm">a10-k20189292018.htm</a></td><td>10-K</td><td>1</td></tr>
		<tr><td>2</td><td>EX-21.1</td><td><a href="/Archives/edgar/data/320193/000032019318000145/a10-kexhibit2112018.htm">a10-kexhibit2112018.htm</a></td><td>EX-21.1</td><td>1</td></tr>
		</table></body></html>`
)

type fakeSEC struct {
	*httptest.Server
	agents   []string
	failures atomic.Int32
}

func newFakeSEC(t *testing.T) *fakeSEC {
	f := &fakeSEC{}
	mux := http.NewServeMux()
	mux.HandleFunc("/files/company_tickers.json", func(w http.ResponseWriter, r *http.Request) {
		f.agents = append(f.agents, r.Header.Get("User-Agent"))
		w.Write([]byte(tickersJSON))
	})
	mux.HandleFunc("/submissions/CIK0000320193.json", func(w http.ResponseWriter, r *http.Request) {
		if f.failures.Load() > 0 {
			f.failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(submissionsJSON))
	})
	mux.HandleFunc("/Archives/edgar/data/320193/000032019320000096/aapl-20200926.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Item 7. Management's Discussion</p></body></html>"))
	})
	mux.HandleFunc("/Archives/edgar/data/320193/000032019319000119/a10-k20199282019.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	})
	mux.HandleFunc("/Archives/edgar/data/320193/000032019318000145/0000320193-18-000145-index.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/Archives/edgar/data/320193/000032019318000145/a10-k20189292018.htm", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>Item 1. Business</p></body></html>"))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newClient(t *testing.T, sec *fakeSEC, onProgress func(edgar.Filing)) *edgar.Client {
	t.Helper()
	c, err := edgar.NewWithConfig(edgar.ClientConfig{
		UserAgent:   "Test Runner test@example.com",
		RateLimit:   1000,
		DataURL:     sec.URL,
		ArchivesURL: sec.URL + "/Archives/edgar/data",
		TickersURL:  sec.URL + "/files/company_tickers.json",
		Retry:       retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		OnProgress:  onProgress,
	})
	require.NoError(t, err)
	return c
}

func TestNewWithConfigRequiresUserAgent(t *testing.T) {
	_, err := edgar.NewWithConfig(edgar.ClientConfig{})
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestLookupCIK(t *testing.T) {
	sec := newFakeSEC(t)
	c := newClient(t, sec, nil)

	cik, err := c.LookupCIK(context.Background(), "msft")
	require.NoError(t, err)
	assert.Equal(t, 789019, cik)

	_, err = c.LookupCIK(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, sec.agents, 1, "ticker list is fetched once")
	assert.Equal(t, "Test Runner test@example.com", sec.agents[0])

	_, err = c.LookupCIK(context.Background(), "NOPE")
	assert.Error(t, err)
}

func TestListFilings(t *testing.T) {
	sec := newFakeSEC(t)
	sec.failures.Store(1)
	c := newClient(t, sec, nil)

	filings, err := c.ListFilings(context.Background(), "aapl", 0)
	require.NoError(t, err)
	require.Len(t, filings, 3)

	assert.Equal(t, edgar.Filing{
		Ticker:          "AAPL",
		CIK:             320193,
		Form:            "10-K",
		AccessionNumber: "0000320193-19-000119",
		FilingDate:      "2019-10-31",
		ReportDate:      "2019-09-28",
		PrimaryDocument: "a10-k20199282019.htm",
		FiscalYear:      2019,
	}, filings[1])
	assert.Equal(t, 2018, filings[2].FiscalYear, "filing date is the fallback")

	limited, err := c.ListFilings(context.Background(), "AAPL", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDownloadEmptyDocument(t *testing.T) {
	sec := newFakeSEC(t)
	c := newClient(t, sec, nil)

	_, err := c.Download(context.Background(), edgar.Filing{
		Ticker:          "AAPL",
		CIK:             320193,
		AccessionNumber: "0000320193-19-000119",
		PrimaryDocument: "a10-k20199282019.htm",
	})
	assert.ErrorIs(t, err, models.ErrEmptyFiling)
}

func TestDownloadNotFoundIsNotRetried(t *testing.T) {
	sec := newFakeSEC(t)
	c := newClient(t, sec, nil)

	_, err := c.Download(context.Background(), edgar.Filing{CIK: 1, AccessionNumber: "x", PrimaryDocument: "missing.htm"})
	assert.ErrorContains(t, err, "status code 404")
}

func TestFetchFilingsResolvesIndexAndSaves(t *testing.T) {
	sec := newFakeSEC(t)
	var progress []string
	c := newClient(t, sec, func(f edgar.Filing) { progress = append(progress, f.AccessionNumber) })
	dir := t.TempDir()

	// The 2019 document is empty, so fetch the newest one on its own first.
	raws, err := c.FetchFilings(context.Background(), "AAPL", 1, dir)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, 2020, raws[0].FiscalYear)
	assert.Equal(t, filepath.Join(dir, "AAPL", "10-K", "0000320193-20-000096", "aapl-20200926.htm"), raws[0].Source)

	raws, err = c.FetchFilings(context.Background(), "AAPL", 0, dir)
	assert.ErrorIs(t, err, models.ErrEmptyFiling)
	assert.Len(t, raws, 1)
	assert.Equal(t, []string{"0000320193-20-000096", "0000320193-20-000096", "0000320193-19-000119"}, progress)

	f := edgar.Filing{Ticker: "AAPL", CIK: 320193, Form: "10-K", AccessionNumber: "0000320193-18-000145", FiscalYear: 2018}
	markup, err := c.Download(context.Background(), f)
	require.NoError(t, err)
	assert.Contains(t, markup, "Item 1. Business")
}

func TestSaveAndLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	f := edgar.Filing{
		Ticker:          "AAPL",
		Form:            "10-K",
		AccessionNumber: "0000320193-19-000119",
		PrimaryDocument: "a10-k20199282019.htm",
		FiscalYear:      2019,
	}
	path, err := edgar.Save(dir, f, "<p>Item 7.</p>")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), edgar.SidecarName))

	filings, err := edgar.LoadDirectory(dir, "10-K", 0)
	require.NoError(t, err)
	require.Len(t, filings, 1)
	assert.Equal(t, models.RawFiling{Ticker: "AAPL", FiscalYear: 2019, Markup: "<p>Item 7.</p>", Source: path}, filings[0])

	_, err = edgar.Save(dir, edgar.Filing{Ticker: "AAPL"}, "x")
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDirectoryLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, edgar.LegacyRoot)
	writeFile(t, filepath.Join(base, "MSFT", "10-K", "0000950170-22-015678", "full-submission.txt"), "<DOCUMENT>2022</DOCUMENT>")
	writeFile(t, filepath.Join(base, "AAPL", "10-K", "0000320193-19-000119", "full-submission.txt"), "<DOCUMENT>2019</DOCUMENT>")
	writeFile(t, filepath.Join(base, "AAPL", "10-K", "0000320193-16-000070", "full-submission.txt"), "<DOCUMENT>2016</DOCUMENT>")
	writeFile(t, filepath.Join(base, "AAPL", "10-K", "0000320193-97-000001", "full-submission.txt"), "<DOCUMENT>1997</DOCUMENT>")
	writeFile(t, filepath.Join(base, "AAPL", "10-K", "0000320193-21-000105", "full-submission.txt"), "   ")
	writeFile(t, filepath.Join(base, "AAPL", "10-K", "no-year", "full-submission.txt"), "<DOCUMENT/>")
	writeFile(t, filepath.Join(base, "AAPL", "10-Q", "0000320193-19-000066", "full-submission.txt"), "quarterly")

	filings, err := edgar.LoadDirectory(dir, "10-K", 2017)
	require.NoError(t, err)

	var got []string
	for _, f := range filings {
		got = append(got, f.ID().String()+" "+f.Markup)
	}
	assert.Equal(t, []string{
		"AAPL_2019 <DOCUMENT>2019</DOCUMENT>",
		"MSFT_2022 <DOCUMENT>2022</DOCUMENT>",
	}, got)

	all, err := edgar.LoadDirectory(dir, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, 1997, all[0].FiscalYear)
}

func TestAccessionYear(t *testing.T) {
	tests := []struct {
		accession string
		year      int
		ok        bool
	}{
		{"0000320193-19-000119", 2019, true},
		{"0000320193-99-000001", 1999, true},
		{"0000320193-05-000001", 2005, true},
		{"full-submission", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.accession, func(t *testing.T) {
			year, ok := edgar.AccessionYear(tt.accession)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.year, year)
		})
	}
}
