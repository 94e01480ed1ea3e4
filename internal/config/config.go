// Package config provides YAML-based configuration for docrag.
// The file carries pipeline tuning only — chunking, retrieval, model names,
// and vector store layout. Endpoints and credentials stay in environment
// variables so config files are safe to commit.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCRAG_CONFIG environment variable
//  3. ~/.docrag/config.yaml
//  4. ./docrag.yaml
//
// If no file is found the defaults apply and the system runs entirely from
// env vars. Unknown keys are rejected so typos fail loudly at startup
// instead of silently falling back to defaults.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// ChunkSize is the maximum chunk length in runes.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the number of runes adjacent chunks share.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Separators is the boundary hierarchy for the splitter, coarsest first.
	Separators []string `yaml:"separators"`

	// Retrieval configures similarity search.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Embeddings configures the embedding model.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// LLM configures the answer-generation model.
	LLM LLMConfig `yaml:"llm"`

	// VectorStore configures index persistence.
	VectorStore VectorStoreConfig `yaml:"vector_store"`
}

// RetrievalConfig holds similarity search settings.
type RetrievalConfig struct {
	// K is the number of chunks retrieved per question.
	K int `yaml:"k"`

	// ScoreThreshold filters weak matches. Interpreted in the direction the
	// distance metric implies: a distance ceiling for cosine/l2, a similarity
	// floor for dot. Nil disables filtering.
	ScoreThreshold *float32 `yaml:"score_threshold"`
}

// EmbeddingsConfig holds embedding model settings. Endpoints and credentials
// come from env vars (OLLAMA_HOST, EMBEDDING_ENDPOINT, EMBEDDING_API_KEY).
type EmbeddingsConfig struct {
	// ModelName is the embedding model identity. Recorded in index snapshots
	// so a model switch is detected at load time.
	ModelName string `yaml:"model_name"`

	// Device is the accelerator hint ("cpu", "cuda"). The hosted backends
	// place the model themselves; the value is logged for parity with
	// self-hosted deployments.
	Device string `yaml:"device"`
}

// LLMConfig holds answer-generation model settings.
type LLMConfig struct {
	// ModelName is the chat model name or deployment.
	ModelName string `yaml:"model_name"`

	// Temperature controls response randomness (0.0-2.0).
	Temperature float32 `yaml:"temperature"`

	// MaxTokens caps the generated answer length.
	MaxTokens int `yaml:"max_tokens"`
}

// VectorStoreConfig holds index persistence settings.
type VectorStoreConfig struct {
	// PersistDirectory is where index snapshots are written.
	PersistDirectory string `yaml:"persist_directory"`

	// CollectionName names the index within the persist directory (and the
	// Qdrant collection when QDRANT_HOST is set).
	CollectionName string `yaml:"collection_name"`

	// DistanceMetric selects score semantics: cosine, l2, or dot.
	DistanceMetric string `yaml:"distance_metric"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Retrieval: RetrievalConfig{
			K: 3,
		},
		Embeddings: EmbeddingsConfig{
			ModelName: "nomic-embed-text",
			Device:    "cpu",
		},
		LLM: LLMConfig{
			ModelName:   "llama3",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		VectorStore: VectorStoreConfig{
			PersistDirectory: "./docrag_index",
			CollectionName:   "documents",
			DistanceMetric:   string(rag.MetricCosine),
		},
	}
}

// Load resolves the config file path, parses it strictly, applies defaults
// for unset fields, and validates the result. Returns the config and the
// path that was loaded ("" when running on defaults).
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		if explicitPath != "" {
			return nil, "", fmt.Errorf("config: %w: %s does not exist", rag.ErrInvalidConfiguration, explicitPath)
		}
		log.Debug("config: no YAML config file found, using defaults")
		if err := cfg.Validate(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, "", fmt.Errorf("config: %w: failed to parse %s: %w", rag.ErrInvalidConfiguration, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w (in %s)", err, path)
	}

	log.Info("config: loaded YAML config", slog.String("path", path))
	return cfg, path, nil
}

// Validate checks the cross-field constraints the pipeline depends on.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: %w: chunk_size must be positive, got %d", rag.ErrInvalidConfiguration, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("config: %w: chunk_overlap must not be negative, got %d", rag.ErrInvalidConfiguration, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("config: %w: chunk_overlap %d must be smaller than chunk_size %d",
			rag.ErrInvalidConfiguration, c.ChunkOverlap, c.ChunkSize)
	}
	if c.Retrieval.K < 1 {
		return fmt.Errorf("config: %w: retrieval.k must be >= 1, got %d", rag.ErrInvalidConfiguration, c.Retrieval.K)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: %w: llm.temperature must be within [0, 2], got %v",
			rag.ErrInvalidConfiguration, c.LLM.Temperature)
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config: %w: llm.max_tokens must be positive, got %d",
			rag.ErrInvalidConfiguration, c.LLM.MaxTokens)
	}
	if !rag.Metric(c.VectorStore.DistanceMetric).Valid() {
		return fmt.Errorf("config: %w: vector_store.distance_metric %q — valid values: cosine, l2, dot",
			rag.ErrInvalidConfiguration, c.VectorStore.DistanceMetric)
	}
	if c.VectorStore.CollectionName == "" {
		return fmt.Errorf("config: %w: vector_store.collection_name must not be empty", rag.ErrInvalidConfiguration)
	}
	return nil
}

// Metric returns the configured distance metric as its typed form.
func (c *Config) Metric() rag.Metric {
	return rag.Metric(c.VectorStore.DistanceMetric)
}

// SnapshotPath returns the on-disk location of the index snapshot.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.VectorStore.PersistDirectory, c.VectorStore.CollectionName+".json")
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docrag.yaml"); err == nil {
		return "docrag.yaml"
	}

	return ""
}
