// Package config loads the memory engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/wanyview/kaidison-system/internal/embedding"
	"github.com/wanyview/kaidison-system/internal/model"
	"github.com/wanyview/kaidison-system/internal/vector"
)

// Environment variables that override file values.
const (
	EnvStoragePath   = "KAIDISON_MEMORY_PATH"
	EnvEmbedProvider = "KAIDISON_EMBED_PROVIDER"
	EnvEmbedModel    = "KAIDISON_EMBED_MODEL"
	EnvEmbedURL      = "KAIDISON_EMBED_URL"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

// File names inside StoragePath.
const (
	dbFile           = "memories.db"
	keywordIndexFile = "keyword_index.json"
	vectorIndexFile  = "vectors.json"
)

// Config is the constructor-time configuration of the engine.
type Config struct {
	StoragePath          string          `yaml:"storage_path"`
	MaxDailyMemories     int             `yaml:"max_daily_memories"`
	GlobalMemoriesLimit  int             `yaml:"global_memories_limit"`
	CompressionThreshold int             `yaml:"compression_threshold"`
	EnableVectorSearch   bool            `yaml:"enable_vector_search"`
	EnableCompression    bool            `yaml:"enable_compression"`
	VectorBackend        string          `yaml:"vector_backend"`
	CacheSize            int             `yaml:"cache_size"`
	Embedding            EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dims      int    `yaml:"dims"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		StoragePath:          filepath.Join(home, ".kaidison-memory"),
		MaxDailyMemories:     1000,
		GlobalMemoriesLimit:  5000,
		CompressionThreshold: 2000,
		EnableVectorSearch:   true,
		EnableCompression:    true,
		VectorBackend:        vector.BackendExact,
		CacheSize:            100,
		Embedding: EmbeddingConfig{
			Provider:  embedding.ProviderHash,
			Dims:      100,
			MaxTokens: 100,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, goerr.Wrap(err, "read config", goerr.V("path", path))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, goerr.Wrap(fmt.Errorf("%w: %w", model.ErrParse, err), "decode config", goerr.V("path", path))
		}
	}
	cfg.ApplyEnv()
	cfg.StoragePath = expandHome(cfg.StoragePath)
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv(EnvEmbedProvider); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv(EnvEmbedModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvEmbedURL); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.StoragePath == "" {
		errs = append(errs, errors.New("storage_path is required"))
	}
	if c.MaxDailyMemories <= 0 {
		errs = append(errs, fmt.Errorf("max_daily_memories must be positive, got %d", c.MaxDailyMemories))
	}
	if c.GlobalMemoriesLimit <= 0 {
		errs = append(errs, fmt.Errorf("global_memories_limit must be positive, got %d", c.GlobalMemoriesLimit))
	}
	if c.CompressionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("compression_threshold must be positive, got %d", c.CompressionThreshold))
	}
	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize))
	}
	switch c.VectorBackend {
	case vector.BackendExact, vector.BackendChromem, vector.BackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown vector_backend %q", c.VectorBackend))
	}
	switch c.Embedding.Provider {
	case "", embedding.ProviderHash, embedding.ProviderOpenAI, embedding.ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if err := errors.Join(errs...); err != nil {
		return goerr.Wrap(err, "invalid config")
	}
	return nil
}

// Capacity returns the configured record limit for layer.
func (c Config) Capacity(layer model.Layer) int {
	if layer == model.LayerGlobal {
		return c.GlobalMemoriesLimit
	}
	return c.MaxDailyMemories
}

// EmbeddingOptions converts the embedding section for embedding.New.
func (c Config) EmbeddingOptions() embedding.Options {
	return embedding.Options{
		Provider:  c.Embedding.Provider,
		Model:     c.Embedding.Model,
		BaseURL:   c.Embedding.BaseURL,
		APIKey:    c.Embedding.APIKey,
		Dims:      c.Embedding.Dims,
		MaxTokens: c.Embedding.MaxTokens,
	}
}

func (c Config) DBPath() string           { return filepath.Join(c.StoragePath, dbFile) }
func (c Config) KeywordIndexPath() string { return filepath.Join(c.StoragePath, keywordIndexFile) }
func (c Config) VectorIndexPath() string  { return filepath.Join(c.StoragePath, vectorIndexFile) }

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
