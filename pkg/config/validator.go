package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/tenk/pkg/processor"
	"github.com/xhad/tenk/pkg/segmenter"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid Ollama base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	// Validate Embedder config
	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.Dimensions != c.Database.VectorDim {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimensions",
			Message: fmt.Sprintf("dimensions %d do not match database.vector_dim %d", c.Embedder.Dimensions, c.Database.VectorDim),
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.search_limit",
			Message: "search_limit must be positive",
		})
	}

	// Validate Edgar config
	if c.Edgar.UserAgent != "" && !strings.Contains(c.Edgar.UserAgent, "@") {
		errors = append(errors, ValidationError{
			Field:   "edgar.user_agent",
			Message: "user_agent must include a contact email",
		})
	}

	if c.Edgar.RateLimit <= 0 || c.Edgar.RateLimit > 10 {
		errors = append(errors, ValidationError{
			Field:   "edgar.rate_limit",
			Message: "rate_limit must be between 0 and 10 requests per second",
		})
	}

	if c.Edgar.Limit < 0 {
		errors = append(errors, ValidationError{
			Field:   "edgar.limit",
			Message: "limit cannot be negative",
		})
	}

	// Validate Segmenter config
	switch segmenter.OutsidePolicy(c.Segmenter.Outside) {
	case segmenter.OutsideDiscard, segmenter.OutsideKeep:
	default:
		errors = append(errors, ValidationError{
			Field:   "segmenter.outside",
			Message: fmt.Sprintf("unknown policy %q (want discard or keep)", c.Segmenter.Outside),
		})
	}

	for _, item := range c.Segmenter.Items {
		if item.Number == "" {
			errors = append(errors, ValidationError{
				Field:   "segmenter.items",
				Message: fmt.Sprintf("item %q has no number", item.Title),
			})
		}
	}

	// Validate Chunker config
	if c.Chunker.MaxChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.max_chunk_size",
			Message: "max_chunk_size must be positive",
		})
	}

	if c.Chunker.MinChunkSize < 0 || c.Chunker.MinChunkSize > c.Chunker.MaxChunkSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.min_chunk_size",
			Message: "min_chunk_size must be non-negative and at most max_chunk_size",
		})
	}

	switch processor.Measure(c.Chunker.Measure) {
	case processor.MeasureChars, processor.MeasureTokens:
	default:
		errors = append(errors, ValidationError{
			Field:   "chunker.measure",
			Message: fmt.Sprintf("unknown measure %q (want chars or tokens)", c.Chunker.Measure),
		})
	}

	// Validate Pipeline config
	if c.Pipeline.Workers < 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.workers",
			Message: "workers cannot be negative",
		})
	}

	switch c.UI.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, ValidationError{
			Field:   "ui.log_level",
			Message: fmt.Sprintf("unknown log level %q", c.UI.LogLevel),
		})
	}

	return errors
}
