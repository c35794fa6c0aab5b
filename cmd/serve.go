package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/tenk/pkg/llm"
	"github.com/xhad/tenk/pkg/store"
	"github.com/xhad/tenk/server"
)

var serveOpts struct {
	addr    string
	origins []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve questions over a websocket",
	Long: `Starts a websocket server at /ws. Clients send {"type": "chat"} or
{"type": "search"} messages with the question in "content".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "Listen address (default server.addr)")
	serveCmd.Flags().StringSliceVar(&serveOpts.origins, "allow-origin", nil, "Allowed browser origins (default any)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	addr := config.Server.Addr
	if serveOpts.addr != "" {
		addr = serveOpts.addr
	}

	srv := server.NewWSServer(server.Config{
		SearchLimit:    config.Database.SearchLimit,
		Streaming:      config.UI.Streaming,
		AllowedOrigins: serveOpts.origins,
	}, embedder, vectorStore, chatEngine, server.WithLogger(logger))

	color.Cyan("Listening on %s (ws://%s/ws)\n", addr, addr)
	return srv.ListenAndServe(ctx, addr)
}
