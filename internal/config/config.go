// Package config provides configuration loading and structs for the Shiori server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Storage    StorageConfig    `yaml:"storage"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Index      IndexConfig      `yaml:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Watch      WatchConfig      `yaml:"watch"`
	Server     ServerConfig     `yaml:"server"`
	MCP        MCPConfig        `yaml:"mcp"`
	Remote     RemoteConfig     `yaml:"remote"`
}

// CorpusConfig names the directory of source documents.
type CorpusConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
	Recursive  *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to walk subdirectories; defaults to true when unset.
func (c *CorpusConfig) RecursiveOrDefault() bool {
	if c.Recursive != nil {
		return *c.Recursive
	}
	return true
}

// StorageConfig holds where snapshots are persisted.
type StorageConfig struct {
	Root string `yaml:"root"`
}

// ChunkingConfig sizes chunks in runes.
type ChunkingConfig struct {
	Size     int `yaml:"size"`
	Overlap  int `yaml:"overlap"`
	Lookback int `yaml:"lookback"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Dimensions        int           `yaml:"dimensions"`
	BatchSize         int           `yaml:"batch_size"`
	CacheSize         int           `yaml:"cache_size"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	MaxInFlight       int           `yaml:"max_in_flight"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	ModelPath         string        `yaml:"model_path"`
	MaxTokens         int           `yaml:"max_tokens"`
}

// GenerationConfig selects the answer generator.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// IndexConfig tunes the vector index and the ingestion pool.
type IndexConfig struct {
	Type            string  `yaml:"type"`
	ANNThreshold    int     `yaml:"ann_threshold"`
	CompactionRatio float64 `yaml:"compaction_ratio"`
	Lists           int     `yaml:"lists"`
	Probes          int     `yaml:"probes"`
	Compression     string  `yaml:"compression"`
	Workers         int     `yaml:"workers"`
}

// RetrievalConfig bounds what a question pulls from the index.
type RetrievalConfig struct {
	TopK            int `yaml:"top_k"`
	MaxContextChars int `yaml:"max_context_chars"`
}

// WatchConfig controls incremental updates from file system events.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MCPConfig selects the MCP transport.
type MCPConfig struct {
	Transport string `yaml:"transport"`
	Address   string `yaml:"address"`
}

// RemoteConfig addresses the object store snapshots are published to.
type RemoteConfig struct {
	Type         string `yaml:"type"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UseSSL       bool   `yaml:"use_ssl"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// Load reads and parses the config file at path, applies defaults, expands
// paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Corpus.Root = expandPath(cfg.Corpus.Root, configDir)
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Remote.Type == "dir" {
		cfg.Remote.Bucket = expandPath(cfg.Remote.Bucket, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Corpus.Root == "" {
		problems = append(problems, "corpus.root is required")
	}
	if c.Chunking.Size <= 0 {
		problems = append(problems, "chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		problems = append(problems, "chunking.overlap must be in [0, size)")
	}
	switch c.Embedding.Provider {
	case "openai", "hash":
	case "onnx":
		if c.Embedding.ModelPath == "" {
			problems = append(problems, "embedding.model_path is required for onnx")
		}
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider %q is not one of openai, onnx, hash", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "hash" && c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions is required for hash")
	}
	switch c.Generation.Provider {
	case "openai", "extractive":
	default:
		problems = append(problems, fmt.Sprintf("generation.provider %q is not one of openai, extractive", c.Generation.Provider))
	}
	switch c.Index.Type {
	case "auto", "flat", "ivf":
	default:
		problems = append(problems, fmt.Sprintf("index.type %q is not one of auto, flat, ivf", c.Index.Type))
	}
	switch c.Index.Compression {
	case "zstd", "lz4", "none":
	default:
		problems = append(problems, fmt.Sprintf("index.compression %q is not one of zstd, lz4, none", c.Index.Compression))
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "retrieval.top_k must be positive")
	}
	switch c.MCP.Transport {
	case "stdio", "sse":
	default:
		problems = append(problems, fmt.Sprintf("mcp.transport %q is not one of stdio, sse", c.MCP.Transport))
	}
	switch c.Remote.Type {
	case "", "s3", "minio", "dir":
	default:
		problems = append(problems, fmt.Sprintf("remote.type %q is not one of s3, minio, dir", c.Remote.Type))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// APIKey returns the value of the environment variable named by env.
func APIKey(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// expandPath converts a path to absolute. "~/" expands to the home directory;
// other relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		return path
	}
	return filepath.Join(configDir, path)
}
