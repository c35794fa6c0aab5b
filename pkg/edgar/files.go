package edgar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xhad/tenk/internal/models"
)

const (
	// SidecarName is the metadata file written next to each document.
	SidecarName = "filing.yaml"

	// LegacyRoot is the folder created by the sec-edgar-downloader tool.
	LegacyRoot = "sec-edgar-filings"
)

// Save writes the document to <dir>/<TICKER>/<form>/<accession>/<document>
// and its metadata to a sidecar in the same folder.
func Save(dir string, f Filing, markup string) (string, error) {
	if f.PrimaryDocument == "" || f.AccessionNumber == "" {
		return "", fmt.Errorf("filing of %s has no accession number or document name", f.Ticker)
	}

	folder := filepath.Join(dir, strings.ToUpper(f.Ticker), f.Form, f.AccessionNumber)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", folder, err)
	}

	path := filepath.Join(folder, filepath.Base(f.PrimaryDocument))
	if err := os.WriteFile(path, []byte(markup), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	meta, err := yaml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode filing metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(folder, SidecarName), meta, 0o644); err != nil {
		return "", fmt.Errorf("failed to write filing metadata: %w", err)
	}
	return path, nil
}

var accessionYear = regexp.MustCompile(`-(\d{2})-`)

// AccessionYear derives a four-digit year from the two-digit year embedded
// in an accession number such as 0000320193-19-000119.
func AccessionYear(accession string) (int, bool) {
	m := accessionYear.FindStringSubmatch(accession)
	if m == nil {
		return 0, false
	}
	yy, _ := strconv.Atoi(m[1])
	if yy >= 90 {
		return 1900 + yy, true
	}
	return 2000 + yy, true
}

// LoadDirectory reads every saved filing of the given form under root.
// Both the layout written by Save and the sec-edgar-filings layout are
// understood. Filings older than minYear and empty documents are skipped.
// Results are ordered by ticker, year and path.
func LoadDirectory(root, form string, minYear int) ([]models.RawFiling, error) {
	if form == "" {
		form = DefaultForm
	}
	if info, err := os.Stat(filepath.Join(root, LegacyRoot)); err == nil && info.IsDir() {
		root = filepath.Join(root, LegacyRoot)
	}

	tickers, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var filings []models.RawFiling
	for _, t := range tickers {
		if !t.IsDir() {
			continue
		}
		formDir := filepath.Join(root, t.Name(), form)
		folders, err := os.ReadDir(formDir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", formDir, err)
		}

		for _, folder := range folders {
			if !folder.IsDir() {
				continue
			}
			filing, ok, err := loadFolder(filepath.Join(formDir, folder.Name()), t.Name())
			if err != nil {
				return nil, err
			}
			if !ok || filing.FiscalYear < minYear {
				continue
			}
			filings = append(filings, filing)
		}
	}

	sort.Slice(filings, func(i, j int) bool {
		a, b := filings[i], filings[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.FiscalYear != b.FiscalYear {
			return a.FiscalYear < b.FiscalYear
		}
		return a.Source < b.Source
	})
	return filings, nil
}

func loadFolder(folder, ticker string) (models.RawFiling, bool, error) {
	var meta Filing
	data, err := os.ReadFile(filepath.Join(folder, SidecarName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &meta); err != nil {
			return models.RawFiling{}, false, fmt.Errorf("failed to parse %s: %w", filepath.Join(folder, SidecarName), err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return models.RawFiling{}, false, err
	}

	year := meta.FiscalYear
	if year == 0 {
		var ok bool
		if year, ok = AccessionYear(filepath.Base(folder)); !ok {
			return models.RawFiling{}, false, nil
		}
	}

	name := filepath.Base(meta.PrimaryDocument)
	if meta.PrimaryDocument == "" {
		if name, err = pickDocument(folder); err != nil || name == "" {
			return models.RawFiling{}, false, err
		}
	}

	path := filepath.Join(folder, name)
	markup, err := os.ReadFile(path)
	if err != nil {
		return models.RawFiling{}, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(markup))) == 0 {
		return models.RawFiling{}, false, nil
	}

	if meta.Ticker != "" {
		ticker = meta.Ticker
	}
	return models.RawFiling{
		Ticker:     strings.ToUpper(ticker),
		FiscalYear: year,
		Markup:     string(markup),
		Source:     path,
	}, true, nil
}

// pickDocument prefers a full-submission text file, then the first HTML
// document of the folder.
func pickDocument(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", folder, err)
	}

	var html string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".txt":
			return e.Name(), nil
		case ".htm", ".html":
			if html == "" {
				html = e.Name()
			}
		}
	}
	return html, nil
}
