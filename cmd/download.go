package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/tenk/pkg/edgar"
)

var downloadOpts struct {
	limit int
	dir   string
}

var downloadCmd = &cobra.Command{
	Use:   "download [ticker...]",
	Short: "Download 10-K filings from SEC EDGAR",
	Long: `Downloads the most recent 10-K filings of each ticker into the data
directory. Tickers default to edgar.tickers from the config file. SEC
requires a user agent with a contact email (edgar.user_agent or
SEC_USER_AGENT).`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().IntVar(&downloadOpts.limit, "limit", 0, "Filings per ticker (default edgar.limit, 0 for all)")
	downloadCmd.Flags().StringVar(&downloadOpts.dir, "dir", "", "Data directory (default edgar.data_dir)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	tickers := args
	if len(tickers) == 0 {
		tickers = config.Edgar.Tickers
	}
	if len(tickers) == 0 {
		return fmt.Errorf("no tickers given and edgar.tickers is empty")
	}

	limit := config.Edgar.Limit
	if cmd.Flags().Changed("limit") {
		limit = downloadOpts.limit
	}
	dir := config.Edgar.DataDir
	if downloadOpts.dir != "" {
		dir = downloadOpts.dir
	}

	bar := getProgressBar(-1, "Downloading filings...")
	edgarConfig := config.EdgarConfig()
	edgarConfig.OnProgress = func(f edgar.Filing) {
		bar.Describe(color.BlueString("Downloading %s %d (%s)", f.Ticker, f.FiscalYear, f.AccessionNumber))
		bar.Add(1)
	}

	client, err := edgar.NewWithConfig(edgarConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize EDGAR client: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var total, failed int
	for _, ticker := range tickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		raws, err := client.FetchFilings(ctx, ticker, limit, dir)
		total += len(raws)
		if err != nil {
			failed++
			logger.Error("download failed", zap.String("ticker", ticker), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	bar.Finish()

	color.Green("\n✓ Downloaded %d filings into %s\n", total, dir)
	if failed > 0 {
		return fmt.Errorf("%d of %d tickers failed", failed, len(tickers))
	}
	return nil
}
