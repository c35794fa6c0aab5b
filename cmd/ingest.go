package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/tenk/pkg/llm"
	"github.com/xhad/tenk/pkg/pipeline"
	"github.com/xhad/tenk/pkg/store"
)

var ingestOpts struct {
	dir     string
	minYear int
	force   bool
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Chunk, embed and store downloaded filings",
	Long: `Parses every filing in the data directory, embeds its chunks with the
configured Ollama model and writes them to the pgvector table. Filings whose
content is unchanged since their last ingest are skipped unless --force is
set.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOpts.dir, "dir", "", "Data directory (default edgar.data_dir)")
	ingestCmd.Flags().IntVar(&ingestOpts.minYear, "min-year", 0, "Skip filings older than this fiscal year (default edgar.min_year)")
	ingestCmd.Flags().BoolVar(&ingestOpts.force, "force", false, "Re-ingest filings already in the ledger")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	filings, err := loadFilings(ingestOpts.dir, ingestOpts.minYear)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	embedder, err := llm.NewEmbedderWithConfig(config.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, config.VectorStoreConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	ledger, err := store.OpenLedger(config.Ledger.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	p, err := pipeline.New(config.PipelineConfig(), pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	ingestor := pipeline.NewIngestor(pipeline.IngestConfig{
		Workers: config.Pipeline.Workers,
		Force:   config.Pipeline.Force || ingestOpts.force,
	}, p, embedder, vectorStore, ledger)

	color.Blue("Ingesting %d filings into %s\n", len(filings), config.Database.TableName)
	spinner := getSpinner(" Chunking, embedding and storing...")
	reports := ingestor.IngestAll(ctx, filings)
	spinner.Finish()
	fmt.Println()

	return printReports(ctx, reports)
}

func printReports(ctx context.Context, reports []pipeline.IngestReport) error {
	var stored, skipped, failed, chunks int
	for _, r := range reports {
		switch {
		case r.Err != nil:
			failed++
			color.Red("✗ %s: %v\n", r.Filing, r.Err)
		case r.Skipped:
			skipped++
			color.White("- %s unchanged, skipped\n", r.Filing)
		default:
			stored++
			chunks += r.Chunks
			fmt.Printf("%s %s: %d chunks\n", color.GreenString("✓"), r.Filing, r.Chunks)
		}
	}

	color.Green("\n✓ Stored %d filings (%d chunks), skipped %d\n", stored, chunks, skipped)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d filings failed", failed, len(reports))
	}
	return nil
}
