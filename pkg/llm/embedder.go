package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/tenk/pkg/retry"
)

// EmbedderConfig represents the configuration for the chunk embedder.
type EmbedderConfig struct {
	Model     string
	BaseURL   string // Ollama server URL
	BatchSize int
	// Dimensions, when set, is checked against every returned vector.
	Dimensions int
	Retry      retry.Config
}

// Embedder embeds chunk text. Newlines are kept: flattened tables rely on
// them to separate rows.
type Embedder struct {
	Config   EmbedderConfig
	embedder embeddings.Embedder
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest" // Default Ollama model
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return NewEmbedderWithClient(config, client)
}

// NewEmbedderWithClient wraps any langchaingo embedding client.
func NewEmbedderWithClient(config EmbedderConfig, client embeddings.EmbedderClient) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Retry.MaxRetries == 0 {
		config.Retry = retry.DefaultConfig()
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		Config:   config,
		embedder: emb,
	}, nil
}

// EmbedTexts returns one vector per text, in order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := retry.Do(ctx, e.Config.Retry, func() ([][]float32, error) {
		return e.embedder.EmbedDocuments(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if err := e.checkDimensions(v); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := retry.Do(ctx, e.Config.Retry, func() ([]float32, error) {
		return e.embedder.EmbedQuery(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := e.checkDimensions(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (e *Embedder) checkDimensions(v []float32) error {
	if e.Config.Dimensions > 0 && len(v) != e.Config.Dimensions {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(v), e.Config.Dimensions)
	}
	return nil
}
