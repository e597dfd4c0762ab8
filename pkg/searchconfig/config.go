// Package searchconfig provides unified configuration for the semantic
// retrieval pipeline. This is the single source of truth for settings shared
// by the sync engine, the search service and the command-line tools.
package searchconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by LoadFromDir when no search.yaml exists. Callers
// can fall back to defaults on this error only; any other load error means a
// config file exists and is broken, which must not be papered over.
var ErrNotFound = errors.New("search.yaml not found")

// RerankStrategy selects the second-pass relevance scorer.
type RerankStrategy string

const (
	RerankCrossEncoder RerankStrategy = "cross-encoder" // remote pairwise scorer
	RerankLexical      RerankStrategy = "lexical"       // local TF-IDF cosine fallback
)

// Config represents the unified retrieval configuration
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Database  DatabaseConfig  `yaml:"database"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// ChunkingConfig controls the sliding-window chunker. Size and Overlap are in
// the same unit (whitespace tokens or runes).
type ChunkingConfig struct {
	Unit    string `yaml:"unit"` // "words" or "runes"
	Size    int    `yaml:"size"`
	Overlap int    `yaml:"overlap"`
}

type IndexConfig struct {
	Path           string `yaml:"path"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
}

type SearchConfig struct {
	TopK          int `yaml:"topk"`
	KeywordLimit  int `yaml:"keyword_limit"`  // 0 = same as topk
	SnippetChars  int `yaml:"snippet_chars"`  // result preview length in runes
	FastPathChars int `yaml:"fastpath_chars"` // preview length for exact-code hits
}

type RerankConfig struct {
	Strategy RerankStrategy `yaml:"strategy"`
	BaseURL  string         `yaml:"base_url"`
	Model    string         `yaml:"model"`
}

type DatabaseConfig struct {
	SQLite string `yaml:"sqlite"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			BaseURL:   "http://127.0.0.1:8080/v1",
			Model:     "all-mpnet-base-v2",
			Dimension: 768,
			BatchSize: 32,
		},
		Chunking: ChunkingConfig{
			Unit:    "words",
			Size:    800,
			Overlap: 100,
		},
		Index: IndexConfig{
			Path:           "data/scp_hnsw.bin",
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
		Search: SearchConfig{
			TopK:          20,
			KeywordLimit:  0,
			SnippetChars:  400,
			FastPathChars: 500,
		},
		Rerank: RerankConfig{
			Strategy: RerankCrossEncoder,
			BaseURL:  "http://127.0.0.1:8081",
			Model:    "cross-encoder/ms-marco-MiniLM-L-6-v2",
		},
		Database: DatabaseConfig{
			SQLite: "scpdb.sqlite",
		},
	}
}

// Validate checks settings that would otherwise fail at runtime. Invalid
// chunking geometry is a precondition violation: a non-positive slide step
// makes the chunker loop forever.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap must be non-negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Size <= c.Chunking.Overlap {
		return fmt.Errorf("chunking.size (%d) must exceed chunking.overlap (%d)", c.Chunking.Size, c.Chunking.Overlap)
	}
	switch c.Chunking.Unit {
	case "words", "runes":
	default:
		return fmt.Errorf("chunking.unit must be \"words\" or \"runes\", got %q", c.Chunking.Unit)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	switch c.Rerank.Strategy {
	case RerankCrossEncoder, RerankLexical:
	default:
		return fmt.Errorf("rerank.strategy must be %q or %q, got %q", RerankCrossEncoder, RerankLexical, c.Rerank.Strategy)
	}
	return nil
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default() // Start with defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir looks for search.yaml in the given directory or parent directories
func LoadFromDir(dir string) (*Config, error) {
	// Walk up the directory tree looking for search.yaml
	current := dir
	for {
		path := filepath.Join(current, "search.yaml")
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break // Reached root
		}
		current = parent
	}

	return nil, fmt.Errorf("%w in %s or parent directories", ErrNotFound, dir)
}

// Hash returns a SHA256 hash of the configuration for change detection
func (c *Config) Hash() string {
	data, _ := yaml.Marshal(c)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// EmbeddingIdentity returns a string identifying the embedding configuration.
// Use this to detect mismatches between indexed and query-time embeddings.
func (c *Config) EmbeddingIdentity() string {
	return fmt.Sprintf("%s:%s:%d", c.Embedding.BaseURL, c.Embedding.Model, c.Embedding.Dimension)
}
