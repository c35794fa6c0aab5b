package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/tenk/internal/models"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string // receives the excerpts, then the question
	BaseURL         string // Ollama server URL
}

const (
	DefaultSystemTemplate = "You are a financial analyst answering questions about SEC 10-K annual reports. " +
		"Answer only from the numbered excerpts provided. Cite excerpts by their number, e.g. [2]. " +
		"Quote figures exactly as written. If the excerpts do not contain the answer, say so."
	DefaultContextTemplate = "Excerpts from 10-K filings:\n%s\nQuestion: %s"
)

// ChatEngine is an engine that uses an LLM to answer questions from
// retrieved filing chunks.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine backed by Ollama.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func applyChatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return config, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = DefaultContextTemplate
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return config, nil
}

// Chat generates a complete answer.
func (ce *ChatEngine) Chat(ctx context.Context, query string, results []models.SearchResult) (string, error) {
	response, err := ce.llm.GenerateContent(ctx, ce.messages(query, results), ce.options()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return "", fmt.Errorf("chat error: no response from LLM")
	}
	return response.Choices[0].Content, nil
}

// ChatStream streams the answer as it is generated. The channel is closed
// when generation ends; a failure is sent as a final "Error: ..." message.
func (ce *ChatEngine) ChatStream(ctx context.Context, query string, results []models.SearchResult) (<-chan string, error) {
	resultChan := make(chan string)
	content := ce.messages(query, results)

	go func() {
		defer close(resultChan)

		send := func(ctx context.Context, chunk []byte) error {
			select {
			case resultChan <- string(chunk):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		opts := append(ce.options(), llms.WithStreamingFunc(send))

		if _, err := ce.llm.GenerateContent(ctx, content, opts...); err != nil {
			select {
			case resultChan <- fmt.Sprintf("Error: %v", err):
			case <-ctx.Done():
			}
		}
	}()

	return resultChan, nil
}

func (ce *ChatEngine) options() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

func (ce *ChatEngine) messages(query string, results []models.SearchResult) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, BuildContext(results), query)),
	}
}

// BuildContext numbers the retrieved chunks so the model can cite them:
//
//	[1] (AAPL 2019 item7 chunk 3)
//	Net sales increased ...
func BuildContext(results []models.SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, r.Citation(), r.Text)
	}
	return sb.String()
}

// FormatSources lists the distinct filing items behind the results.
func FormatSources(results []models.SearchResult) string {
	var sources []string
	seen := make(map[string]bool)

	for _, r := range results {
		key := fmt.Sprintf("%s %d %s", r.Ticker, r.FiscalYear, r.Item)
		if !seen[key] {
			sources = append(sources, key)
			seen[key] = true
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(sources, "\n"))
}
