// Package config loads codectx configuration from YAML with environment
// overrides. The file lives at <data_dir>/config.yaml; a .env file in the
// working directory is merged into the environment before overrides apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	cerr "github.com/probeshift/codectx/internal/errors"
)

// Config is the root configuration.
type Config struct {
	// DataDir is where registry, snapshots, locks, and logs live.
	DataDir string `yaml:"data_dir"`

	Logging   LoggingConfig   `yaml:"logging"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
}

// LoggingConfig controls the slog setup.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	WriteToStderr bool   `yaml:"write_to_stderr"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of: openai, voyageai, gemini, ollama.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	// Dimension 0 means detect by probing the provider.
	Dimension int `yaml:"dimension"`
}

// Store backends.
const (
	StoreBackendQdrant = "qdrant"
	StoreBackendMemory = "memory"
)

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Backend is "qdrant" or "memory". Empty host implies memory.
	Backend string `yaml:"backend"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"`
	UseTLS  bool   `yaml:"use_tls"`
	// MaxCollections is the account-level collection ceiling.
	MaxCollections int `yaml:"max_collections"`
}

// IndexingConfig tunes the indexing pipeline.
type IndexingConfig struct {
	HybridMode         bool     `yaml:"hybrid_mode"`
	EmbeddingBatchSize int      `yaml:"embedding_batch_size"`
	APIConcurrency     int      `yaml:"api_concurrency"`
	FileConcurrency    int      `yaml:"file_concurrency"`
	MemoryLimitMB      int      `yaml:"memory_limit_mb"`
	CustomExtensions   []string `yaml:"custom_extensions"`
	CustomIgnore       []string `yaml:"custom_ignore_patterns"`
}

// SearchConfig tunes the query router.
type SearchConfig struct {
	TopK      int     `yaml:"top_k"`
	Threshold float64 `yaml:"threshold"`
	RRFK      int     `yaml:"rrf_k"`
}

const (
	// DefaultMemoryLimitMB is the floor for the pipeline memory budget.
	DefaultMemoryLimitMB = 1536

	// MaxFileConcurrency caps the file worker pool.
	MaxFileConcurrency = 20
)

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		DataDir: filepath.Join(home, ".codectx"),
		Logging: LoggingConfig{
			Level:         "info",
			WriteToStderr: false,
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Store: StoreConfig{
			Backend:        "memory",
			Port:           6334,
			MaxCollections: 100,
		},
		Indexing: IndexingConfig{
			HybridMode:      true,
			FileConcurrency: DefaultFileConcurrency(),
			MemoryLimitMB:   DefaultMemoryLimitMB,
		},
		Search: SearchConfig{
			TopK:      10,
			Threshold: 0.3,
			RRFK:      100,
		},
	}
}

// DefaultFileConcurrency is min(CPU x 2, 20).
func DefaultFileConcurrency() int {
	n := runtime.NumCPU() * 2
	if n > MaxFileConcurrency {
		n = MaxFileConcurrency
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Load reads the YAML config file if present, merges a .env file into the
// environment, and applies environment overrides. A missing config file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cerr.Wrap(cerr.ErrCodeConfigInvalid, fmt.Errorf("parse %s: %w", path, err))
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, cerr.Wrap(cerr.ErrCodeConfigInvalid, fmt.Errorf("read %s: %w", path, err))
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("HYBRID_MODE"); ok {
		c.Indexing.HybridMode = parseBool(v, c.Indexing.HybridMode)
	}
	if v := envInt("EMBEDDING_BATCH_SIZE"); v > 0 {
		c.Indexing.EmbeddingBatchSize = v
	}
	if v := envInt("API_CONCURRENCY"); v > 0 {
		c.Indexing.APIConcurrency = v
	}
	if v := envInt("FILE_CONCURRENCY"); v > 0 {
		c.Indexing.FileConcurrency = v
	}
	if v := envInt("MEMORY_LIMIT_MB"); v > 0 {
		c.Indexing.MemoryLimitMB = v
	}
	if v := os.Getenv("CUSTOM_EXTENSIONS"); v != "" {
		c.Indexing.CustomExtensions = MergeList(c.Indexing.CustomExtensions, splitCSV(v))
	}
	if v := os.Getenv("CUSTOM_IGNORE_PATTERNS"); v != "" {
		c.Indexing.CustomIgnore = MergeList(c.Indexing.CustomIgnore, splitCSV(v))
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKeyFromEnv(c.Embedding.Provider)
	}
	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}

	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.Store.Backend = "qdrant"
		c.Store.Host = v
	}
	if v := envInt("QDRANT_PORT"); v > 0 {
		c.Store.Port = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Store.APIKey = v
	}
}

// normalize clamps values into their supported ranges.
func (c *Config) normalize() {
	if c.Indexing.MemoryLimitMB < DefaultMemoryLimitMB {
		c.Indexing.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if c.Indexing.FileConcurrency <= 0 {
		c.Indexing.FileConcurrency = DefaultFileConcurrency()
	}
	if c.Indexing.FileConcurrency > MaxFileConcurrency {
		c.Indexing.FileConcurrency = MaxFileConcurrency
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = 10
	}
	if c.Search.Threshold < 0 {
		c.Search.Threshold = 0.3
	}
	if c.Search.RRFK <= 0 {
		c.Search.RRFK = 100
	}
	if c.Store.MaxCollections <= 0 {
		c.Store.MaxCollections = 100
	}
	if c.Store.Backend == "" {
		if c.Store.Host != "" {
			c.Store.Backend = "qdrant"
		} else {
			c.Store.Backend = "memory"
		}
	}
}

// RegistryPath is the location of the registry file.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "registry.json")
}

// SnapshotDir is the directory holding per-codebase snapshots.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

// LockDir is the directory holding cross-process lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// MergeList appends items to base, dropping duplicates while preserving
// first occurrence.
func MergeList(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "voyageai":
		return os.Getenv("VOYAGEAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
