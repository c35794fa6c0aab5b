package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/tenk/internal/models"
	"github.com/xhad/tenk/pkg/llm"
	"github.com/xhad/tenk/pkg/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions about ingested filings",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().Bool("no-stream", false, "Wait for the complete answer instead of streaming it")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	embedder, err := llm.NewEmbedderWithConfig(config.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chatEngine, err := llm.NewWithConfig(config.ChatConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, config.VectorStoreConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	defer vectorStore.Close()

	noStream, _ := cmd.Flags().GetBool("no-stream")
	streaming := config.UI.Streaming && !noStream

	color.Cyan("\nAsk about your filings (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		querySpinner := getSpinner(" Searching filings...")
		embedding, err := embedder.EmbedQuery(ctx, query)
		if err != nil {
			querySpinner.Finish()
			color.Red("\nFailed to create query embedding: %v\n", err)
			continue
		}
		results, err := vectorStore.Query(ctx, embedding, config.Database.SearchLimit)
		querySpinner.Finish()
		if err != nil {
			color.Red("\nError querying filings: %v\n", err)
			continue
		}
		if len(results) == 0 {
			color.Yellow("\nNo matching chunks; run 'tenk ingest' first.\n")
			continue
		}

		if streaming {
			streamAnswer(ctx, chatEngine, query, results, assistantPrompt)
		} else {
			responseSpinner := getSpinner(" Generating response...")
			response, err := chatEngine.Chat(ctx, query, results)
			responseSpinner.Finish()
			if err != nil {
				color.Red("\nError: %v\n", err)
				continue
			}
			assistantPrompt("\nAssistant: %s\n", response)
		}
		fmt.Print(color.HiBlackString("\n%s", llm.FormatSources(results)))
	}

	return scanner.Err()
}

func streamAnswer(ctx context.Context, chatEngine *llm.ChatEngine, query string, results []models.SearchResult, assistantPrompt func(string, ...interface{})) {
	stream, err := chatEngine.ChatStream(ctx, query, results)
	if err != nil {
		color.Red("\nError: %v\n", err)
		return
	}

	responseSpinner := getSpinner(" Thinking...")
	firstChunk := true
	for chunk := range stream {
		if strings.HasPrefix(chunk, "Error:") {
			responseSpinner.Finish()
			color.Red("\n%s\n", chunk)
			return
		}
		if firstChunk {
			responseSpinner.Finish()
			firstChunk = false
			fmt.Print("\n")
			assistantPrompt("Assistant: ")
		}
		fmt.Print(chunk)
	}
	if firstChunk {
		responseSpinner.Finish()
	}
	fmt.Print("\n")
}
