package edgar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/retry"
)

const (
	DefaultDataURL     = "https://data.sec.gov"
	DefaultArchivesURL = "https://www.sec.gov/Archives/edgar/data"
	DefaultTickersURL  = "https://www.sec.gov/files/company_tickers.json"
	DefaultForm        = "10-K"
)

type ClientConfig struct {
	// UserAgent identifies the caller, e.g. "Jane Doe jane@example.com".
	// SEC rejects requests without one.
	UserAgent   string
	RateLimit   float64 // requests per second
	Timeout     time.Duration
	DataURL     string
	ArchivesURL string
	TickersURL  string
	Form        string
	Retry       retry.Config
	OnProgress  func(f Filing) // called before each download
}

// Filing is one entry of a company's EDGAR submission history.
type Filing struct {
	Ticker          string `yaml:"ticker"`
	CIK             int    `yaml:"cik"`
	Form            string `yaml:"form"`
	AccessionNumber string `yaml:"accession_number"`
	FilingDate      string `yaml:"filing_date"`
	ReportDate      string `yaml:"report_date,omitempty"`
	PrimaryDocument string `yaml:"primary_document"`
	FiscalYear      int    `yaml:"fiscal_year"`
}

type Client struct {
	config  ClientConfig
	client  *http.Client
	limiter *rate.Limiter

	mu   sync.Mutex
	ciks map[string]int
}

func NewWithConfig(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.UserAgent) == "" {
		return nil, fmt.Errorf("%w: SEC requires a user agent with a contact email", models.ErrInvalidConfig)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5 // SEC allows 10 requests per second
	}
	if config.DataURL == "" {
		config.DataURL = DefaultDataURL
	}
	if config.ArchivesURL == "" {
		config.ArchivesURL = DefaultArchivesURL
	}
	if config.TickersURL == "" {
		config.TickersURL = DefaultTickersURL
	}
	if config.Form == "" {
		config.Form = DefaultForm
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.DefaultConfig()
	}

	return &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("received status code %d for URL: %s", e.code, e.url)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return retry.Do(ctx, c.config.Retry, func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := &statusError{url: url, code: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		return io.ReadAll(resp.Body)
	})
}

// LookupCIK resolves a ticker to its SEC central index key.
func (c *Client) LookupCIK(ctx context.Context, ticker string) (int, error) {
	ticker = strings.ToUpper(ticker)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ciks == nil {
		body, err := c.get(ctx, c.config.TickersURL)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch ticker list: %w", err)
		}
		var entries map[string]struct {
			CIK    int    `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(body, &entries); err != nil {
			return 0, fmt.Errorf("failed to parse ticker list: %w", err)
		}
		c.ciks = make(map[string]int, len(entries))
		for _, e := range entries {
			c.ciks[strings.ToUpper(e.Ticker)] = e.CIK
		}
	}

	cik, ok := c.ciks[ticker]
	if !ok {
		return 0, fmt.Errorf("unknown ticker %q", ticker)
	}
	return cik, nil
}

type submissions struct {
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			ReportDate      []string `json:"reportDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// ListFilings returns the most recent filings of the configured form,
// newest first. A limit of zero returns all of them.
func (c *Client) ListFilings(ctx context.Context, ticker string, limit int) ([]Filing, error) {
	cik, err := c.LookupCIK(ctx, ticker)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/submissions/CIK%010d.json", c.config.DataURL, cik))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions of %s: %w", ticker, err)
	}
	var sub submissions
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse submissions of %s: %w", ticker, err)
	}

	recent := sub.Filings.Recent
	var filings []Filing
	for i, form := range recent.Form {
		if form != c.config.Form {
			continue
		}
		f := Filing{
			Ticker:          strings.ToUpper(ticker),
			CIK:             cik,
			Form:            form,
			AccessionNumber: at(recent.AccessionNumber, i),
			FilingDate:      at(recent.FilingDate, i),
			ReportDate:      at(recent.ReportDate, i),
			PrimaryDocument: at(recent.PrimaryDocument, i),
		}
		f.FiscalYear = FiscalYear(f.ReportDate, f.FilingDate)
		filings = append(filings, f)
		if limit > 0 && len(filings) == limit {
			break
		}
	}
	return filings, nil
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

// FiscalYear is the year of the period of report, or of the filing date
// when the report date is missing.
func FiscalYear(reportDate, filingDate string) int {
	for _, d := range []string{reportDate, filingDate} {
		if t, err := time.Parse(time.DateOnly, d); err == nil {
			return t.Year()
		}
	}
	return 0
}

func (c *Client) folderURL(f Filing) string {
	return fmt.Sprintf("%s/%d/%s", c.config.ArchivesURL, f.CIK, strings.ReplaceAll(f.AccessionNumber, "-", ""))
}

// resolveDocument reads the filing index page when the submissions listing
// did not name a primary document.
func (c *Client) resolveDocument(ctx context.Context, f Filing) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/%s-index.htm", c.folderURL(f), f.AccessionNumber))
	if err != nil {
		return "", fmt.Errorf("failed to fetch filing index: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse filing index: %w", err)
	}

	var name string
	doc.Find("table.tableFile tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 4 || strings.TrimSpace(cells.Eq(3).Text()) != f.Form {
			return true
		}
		href, ok := cells.Eq(2).Find("a").Attr("href")
		if !ok {
			return true
		}
		// inline XBRL viewer links look like /ix?doc=/Archives/...
		name = href[strings.LastIndex(href, "/")+1:]
		return false
	})
	if name == "" {
		return "", fmt.Errorf("no %s document in filing %s", f.Form, f.AccessionNumber)
	}
	return name, nil
}

// Download returns the markup of the filing's primary document.
func (c *Client) Download(ctx context.Context, f Filing) (string, error) {
	if f.PrimaryDocument == "" {
		name, err := c.resolveDocument(ctx, f)
		if err != nil {
			return "", err
		}
		f.PrimaryDocument = name
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/%s", c.folderURL(f), f.PrimaryDocument))
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", f.AccessionNumber, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("%s %s: %w", f.Ticker, f.AccessionNumber, models.ErrEmptyFiling)
	}
	return string(body), nil
}

// FetchFilings downloads up to limit filings of a ticker into dir and
// returns them ready for the pipeline.
func (c *Client) FetchFilings(ctx context.Context, ticker string, limit int, dir string) ([]models.RawFiling, error) {
	filings, err := c.ListFilings(ctx, ticker, limit)
	if err != nil {
		return nil, err
	}

	var raws []models.RawFiling
	for _, f := range filings {
		if c.config.OnProgress != nil {
			c.config.OnProgress(f)
		}

		if f.PrimaryDocument == "" {
			if f.PrimaryDocument, err = c.resolveDocument(ctx, f); err != nil {
				return raws, err
			}
		}
		markup, err := c.Download(ctx, f)
		if err != nil {
			return raws, err
		}
		path, err := Save(dir, f, markup)
		if err != nil {
			return raws, err
		}

		raws = append(raws, models.RawFiling{
			Ticker:     f.Ticker,
			FiscalYear: f.FiscalYear,
			Markup:     markup,
			Source:     path,
		})
	}
	return raws, nil
}
