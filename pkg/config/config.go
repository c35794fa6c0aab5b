package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xhad/tenk/pkg/edgar"
	"github.com/xhad/tenk/pkg/llm"
	"github.com/xhad/tenk/pkg/normalizer"
	"github.com/xhad/tenk/pkg/pipeline"
	"github.com/xhad/tenk/pkg/processor"
	"github.com/xhad/tenk/pkg/segmenter"
	"github.com/xhad/tenk/pkg/store"
	"github.com/xhad/tenk/pkg/tables"
)

type Config struct {
	LLM struct {
		BaseURL      string  `yaml:"base_url"`
		Model        string  `yaml:"model"`
		MaxTokens    int     `yaml:"max_tokens"`
		Temperature  float64 `yaml:"temperature"`
		SystemPrompt string  `yaml:"system_prompt"`
	} `yaml:"llm"`

	Embedder struct {
		BaseURL    string `yaml:"base_url"`
		Model      string `yaml:"model"`
		BatchSize  int    `yaml:"batch_size"`
		Dimensions int    `yaml:"dimensions"`
	} `yaml:"embedder"`

	Database struct {
		URL         string `yaml:"url"`
		TableName   string `yaml:"table_name"`
		VectorDim   int    `yaml:"vector_dim"`
		SearchLimit int    `yaml:"search_limit"`
		IndexLists  int    `yaml:"index_lists"`
	} `yaml:"database"`

	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`

	Edgar struct {
		UserAgent string   `yaml:"user_agent"`
		RateLimit float64  `yaml:"rate_limit"`
		Form      string   `yaml:"form"`
		Tickers   []string `yaml:"tickers"`
		Limit     int      `yaml:"limit"`
		DataDir   string   `yaml:"data_dir"`
		MinYear   int      `yaml:"min_year"`
	} `yaml:"edgar"`

	Segmenter struct {
		Items         []segmenter.ItemDefinition `yaml:"items"`
		Outside       string                     `yaml:"outside"`
		DegradedLabel string                     `yaml:"degraded_label"`
	} `yaml:"segmenter"`

	Normalizer struct {
		KeepPageNumbers bool `yaml:"keep_page_numbers"`
		KeepLeaders     bool `yaml:"keep_leaders"`
	} `yaml:"normalizer"`

	Chunker struct {
		MaxChunkSize         int    `yaml:"max_chunk_size"`
		MinChunkSize         int    `yaml:"min_chunk_size"`
		Measure              string `yaml:"measure"`
		Encoding             string `yaml:"encoding"`
		SplitOversizedTables bool   `yaml:"split_oversized_tables"`
	} `yaml:"chunker"`

	Tables struct {
		HeaderOnce bool   `yaml:"header_once"`
		RowPrefix  string `yaml:"row_prefix"`
	} `yaml:"tables"`

	Pipeline struct {
		Workers int  `yaml:"workers"`
		Force   bool `yaml:"force"`
	} `yaml:"pipeline"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	UI struct {
		Streaming bool   `yaml:"streaming"`
		Theme     string `yaml:"theme"`
		LogLevel  string `yaml:"log_level"`
	} `yaml:"ui"`
}

func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/tenk/config.yaml"),
			"/etc/tenk/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(config)

	// Apply defaults for unset values
	applyDefaults(config)

	return config, nil
}

// newConfig presets the values whose zero value is meaningful, so that a
// YAML file can still turn them off.
func newConfig() *Config {
	config := &Config{}
	config.UI.Streaming = true
	config.Tables.RowPrefix = tables.DefaultRowPrefix
	return config
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text:latest"
	}
	if config.Embedder.BaseURL == "" {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "filing_chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Embedder.Dimensions == 0 {
		config.Embedder.Dimensions = config.Database.VectorDim
	}
	if config.Database.SearchLimit == 0 {
		config.Database.SearchLimit = 5
	}
	if config.Database.IndexLists == 0 {
		config.Database.IndexLists = 100
	}

	if config.Ledger.Path == "" {
		config.Ledger.Path = filepath.Join("data", "ledger.db")
	}

	if config.Edgar.RateLimit == 0 {
		config.Edgar.RateLimit = 5
	}
	if config.Edgar.Form == "" {
		config.Edgar.Form = edgar.DefaultForm
	}
	if config.Edgar.DataDir == "" {
		config.Edgar.DataDir = filepath.Join("data", "raw")
	}

	if config.Segmenter.Outside == "" {
		config.Segmenter.Outside = string(segmenter.OutsideDiscard)
	}
	if config.Segmenter.DegradedLabel == "" {
		config.Segmenter.DegradedLabel = segmenter.DefaultDegradedLabel
	}

	if config.Chunker.MaxChunkSize == 0 {
		config.Chunker.MaxChunkSize = processor.DefaultMaxChunkSize
	}
	if config.Chunker.MinChunkSize == 0 {
		config.Chunker.MinChunkSize = min(processor.DefaultMinChunkSize, config.Chunker.MaxChunkSize)
	}
	if config.Chunker.Measure == "" {
		config.Chunker.Measure = string(processor.MeasureChars)
	}
	if config.Chunker.Encoding == "" {
		config.Chunker.Encoding = processor.DefaultEncoding
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.UI.Theme == "" {
		config.UI.Theme = "default"
	}
	if config.UI.LogLevel == "" {
		config.UI.LogLevel = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if agent := os.Getenv("SEC_USER_AGENT"); agent != "" {
		config.Edgar.UserAgent = agent
	}
}

// PipelineConfig builds the immutable configuration of the parsing stages.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Form: c.Edgar.Form,
		Segmenter: segmenter.Config{
			Items:         c.Segmenter.Items,
			DegradedLabel: c.Segmenter.DegradedLabel,
			Outside:       segmenter.OutsidePolicy(c.Segmenter.Outside),
		},
		Normalizer: normalizer.Config{
			KeepPageNumbers: c.Normalizer.KeepPageNumbers,
			KeepLeaders:     c.Normalizer.KeepLeaders,
		},
		Tables: tables.Config{
			RepeatHeader: !c.Tables.HeaderOnce,
			RowPrefix:    c.Tables.RowPrefix,
		},
		Processor: processor.ProcessorConfig{
			MaxChunkSize:         c.Chunker.MaxChunkSize,
			MinChunkSize:         c.Chunker.MinChunkSize,
			Measure:              processor.Measure(c.Chunker.Measure),
			Encoding:             c.Chunker.Encoding,
			SplitOversizedTables: c.Chunker.SplitOversizedTables,
		},
	}
}

func (c *Config) ChatConfig() llm.ChatConfig {
	return llm.ChatConfig{
		Model:          c.LLM.Model,
		Temperature:    c.LLM.Temperature,
		MaxTokens:      c.LLM.MaxTokens,
		SystemTemplate: c.LLM.SystemPrompt,
		BaseURL:        c.LLM.BaseURL,
	}
}

func (c *Config) EmbedderConfig() llm.EmbedderConfig {
	return llm.EmbedderConfig{
		Model:      c.Embedder.Model,
		BaseURL:    c.Embedder.BaseURL,
		BatchSize:  c.Embedder.BatchSize,
		Dimensions: c.Embedder.Dimensions,
	}
}

func (c *Config) VectorStoreConfig() store.VectorStoreConfig {
	return store.VectorStoreConfig{
		ConnString:  c.Database.URL,
		TableName:   c.Database.TableName,
		VectorDim:   c.Database.VectorDim,
		SearchLimit: c.Database.SearchLimit,
		IndexLists:  c.Database.IndexLists,
	}
}

func (c *Config) EdgarConfig() edgar.ClientConfig {
	return edgar.ClientConfig{
		UserAgent: c.Edgar.UserAgent,
		RateLimit: c.Edgar.RateLimit,
		Form:      c.Edgar.Form,
		Timeout:   30 * time.Second,
	}
}
