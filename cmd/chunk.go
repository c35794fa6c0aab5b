package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/edgar"
	"github.com/xhad/tenk/pkg/pipeline"
)

var chunkOpts struct {
	dir     string
	out     string
	minYear int
}

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Chunk downloaded filings without embedding them",
	Long: `Parses every filing in the data directory and writes its chunks as
JSON lines, one chunk per line, to --out (stdout by default). A summary of
each filing is printed to stderr.`,
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVar(&chunkOpts.dir, "dir", "", "Data directory (default edgar.data_dir)")
	chunkCmd.Flags().StringVarP(&chunkOpts.out, "out", "o", "-", "Output file for chunks, - for stdout")
	chunkCmd.Flags().IntVar(&chunkOpts.minYear, "min-year", 0, "Skip filings older than this fiscal year (default edgar.min_year)")
	rootCmd.AddCommand(chunkCmd)
}

func loadFilings(dir string, minYear int) ([]models.RawFiling, error) {
	if dir == "" {
		dir = config.Edgar.DataDir
	}
	if minYear == 0 {
		minYear = config.Edgar.MinYear
	}

	filings, err := edgar.LoadDirectory(dir, config.Edgar.Form, minYear)
	if err != nil {
		return nil, fmt.Errorf("failed to load filings: %w", err)
	}
	if len(filings) == 0 {
		return nil, fmt.Errorf("no %s filings found in %s", config.Edgar.Form, dir)
	}
	return filings, nil
}

func runChunk(cmd *cobra.Command, args []string) (err error) {
	filings, err := loadFilings(chunkOpts.dir, chunkOpts.minYear)
	if err != nil {
		return err
	}

	bar := getProgressBar(len(filings), "Chunking filings...")
	p, err := pipeline.New(config.PipelineConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithProgress(func(pipeline.Outcome) { bar.Add(1) }),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	outcomes := p.ProcessAll(ctx, filings, config.Pipeline.Workers)
	bar.Finish()

	var w io.Writer = cmd.OutOrStdout()
	if chunkOpts.out != "-" {
		f, err := os.Create(chunkOpts.out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("failed to close output file: %w", cerr)
			}
		}()
		w = f
	}

	enc := json.NewEncoder(w)
	errOut := cmd.ErrOrStderr()
	var chunks, failed int
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintln(errOut, color.RedString("✗ %s: %v", o.Filing, o.Err))
			continue
		}

		for _, c := range o.Result.Chunks() {
			if err := enc.Encode(c); err != nil {
				return fmt.Errorf("failed to write chunk: %w", err)
			}
			chunks++
		}
		fmt.Fprintln(errOut, summarize(o.Result))
	}

	fmt.Fprintln(errOut, color.GreenString("\n✓ %d filings chunked into %d chunks", len(outcomes)-failed, chunks))
	if failed > 0 {
		return fmt.Errorf("%d of %d filings failed", failed, len(outcomes))
	}
	return nil
}

func summarize(r *models.FilingResult) string {
	line := fmt.Sprintf("%s %s: %d chunks in %d items", color.CyanString("%s", r.Filing), r.Status, len(r.Chunks()), len(r.Items))
	if r.Degraded {
		line += color.YellowString(" (no item headings found)")
	}
	return line
}
