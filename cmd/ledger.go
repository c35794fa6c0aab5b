package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xhad/tenk/pkg/store"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List ingested filings",
	RunE:  runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	ledger, err := store.OpenLedger(config.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	entries, err := ledger.Entries(cmd.Context())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		cmd.Printf("No filings ingested yet (%s)\n", ledger.Path())
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tYEAR\tCHUNKS\tINGESTED\tSOURCE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			e.Filing.Ticker, e.Filing.FiscalYear, e.Chunks,
			e.IngestedAt.Local().Format("2006-01-02 15:04"), e.Source)
	}
	return w.Flush()
}
