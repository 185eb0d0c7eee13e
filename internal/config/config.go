package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // memory | sqlite | chromem | postgres
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Path       string `yaml:"path"`        // sqlite file
	VectorPath string `yaml:"vector_path"` // chromem directory
	PGDriver   string `yaml:"pg_driver"`   // pgdriver | pq
	Debug      bool   `yaml:"debug"`
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // mock | openai | ollama
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	Key        string `yaml:"api_key"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // mock | openai | ollama
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RAGConfig struct {
	ChunkSize        int     `yaml:"chunk_size"`
	ChunkOverlap     int     `yaml:"chunk_overlap"`
	TopK             int     `yaml:"top_k"`
	MinSimilarity    float64 `yaml:"min_similarity"`
	MaxContextChunks int     `yaml:"max_context_chunks"`
}

type StorageConfig struct {
	Root             string `yaml:"root"`
	SniffContentType bool   `yaml:"sniff_content_type"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

const (
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultTopK             = 5
	DefaultMinSimilarity    = 0.5
	DefaultMaxContextChunks = 5
	DefaultDimensions       = 3072
	DefaultEmbeddingModel   = "text-embedding-3-large"
	DefaultInferenceModel   = "gpt-4o-mini"
	DefaultMaxTokens        = 2048
	DefaultTemperature      = 0.3
)

// LoadConfig reads the yaml file at path, falling back to defaults when it does not exist.
// A .env file next to the working directory is loaded first so secrets can stay out of yaml.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.Embedding.Key == "" {
			c.Embedding.Key = v
		}
		if c.LLM.Key == "" {
			c.LLM.Key = v
		}
	}
	if v := os.Getenv("PROMPT_RAG_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("PROMPT_RAG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.PGDriver == "" {
		c.Database.PGDriver = "pgdriver"
	}
	if (c.Database.Driver == "sqlite" || c.Database.Driver == "chromem") && c.Database.Path == "" {
		c.Database.Path = "./data/prompt-rag.db"
	}
	if c.Database.Driver == "chromem" && c.Database.VectorPath == "" {
		c.Database.VectorPath = "./data/vectors"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "mock"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = DefaultDimensions
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "mock"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultInferenceModel
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = DefaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = DefaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = DefaultTopK
	}
	if c.RAG.MinSimilarity == 0 {
		c.RAG.MinSimilarity = DefaultMinSimilarity
	}
	if c.RAG.MaxContextChunks == 0 {
		c.RAG.MaxContextChunks = DefaultMaxContextChunks
	}

	if c.Storage.Root == "" {
		c.Storage.Root = "./data/files"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration after defaults have been applied
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "chromem":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
		if c.Database.PGDriver != "pgdriver" && c.Database.PGDriver != "pq" {
			return fmt.Errorf("unsupported database.pg_driver: %s", c.Database.PGDriver)
		}
	default:
		return fmt.Errorf("unsupported database.driver: %s", c.Database.Driver)
	}

	switch c.Embedding.Provider {
	case "mock", "ollama":
	case "openai":
		if c.Embedding.Key == "" {
			return errors.New("embedding.api_key (or OPENAI_API_KEY) is required for openai")
		}
	default:
		return fmt.Errorf("unsupported embedding.provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return errors.New("embedding.dimensions must be positive")
	}

	switch c.LLM.Provider {
	case "mock", "ollama":
	case "openai":
		if c.LLM.Key == "" {
			return errors.New("llm.api_key (or OPENAI_API_KEY) is required for openai")
		}
	default:
		return fmt.Errorf("unsupported llm.provider: %s", c.LLM.Provider)
	}

	if c.RAG.ChunkSize <= 0 {
		return errors.New("rag.chunk_size must be positive")
	}
	if c.RAG.ChunkOverlap < 0 {
		return errors.New("rag.chunk_overlap cannot be negative")
	}
	if c.RAG.TopK <= 0 {
		return errors.New("rag.top_k must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("unsupported log.level: %s", c.Log.Level)
	}
	return nil
}
