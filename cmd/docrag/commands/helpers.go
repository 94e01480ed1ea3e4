package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/generator"
	"github.com/54b3r/docrag-go/internal/pipeline"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/splitter"
	"github.com/54b3r/docrag-go/internal/store"
)

// activeConfig returns the configuration loaded by the root command,
// falling back to defaults when PersistentPreRunE has not run (tests).
func activeConfig() *config.Config {
	if loadedConfig != nil {
		return loadedConfig
	}
	return config.Default()
}

// buildVectorStore selects the index backend: Qdrant when QDRANT_HOST is
// set, otherwise the local snapshot-backed flat index.
func buildVectorStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (rag.VectorStore, error) {
	qdrantHost := os.Getenv("QDRANT_HOST")
	if qdrantHost == "" {
		vstore, err := rag.Open(cfg.SnapshotPath(), cfg.Embeddings.ModelName, cfg.Metric())
		if err != nil {
			return nil, fmt.Errorf("opening index snapshot %s: %w", cfg.SnapshotPath(), err)
		}
		log.Info("vector store: local flat index",
			slog.String("snapshot", cfg.SnapshotPath()),
			slog.String("metric", string(cfg.Metric())),
		)
		return vstore, nil
	}

	backend := embedder.Backend()
	dims := getEnvInt("EMBEDDING_DIMENSIONS", embedder.DefaultDimensions(backend))
	collection := getEnvOrDefault("QDRANT_COLLECTION", cfg.VectorStore.CollectionName)
	port := getEnvInt("QDRANT_PORT", 6334)

	vstore, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       qdrantHost,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		Metric:     cfg.Metric(),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant at %s:%d: %w", qdrantHost, port, err)
	}
	log.Info("vector store: qdrant",
		slog.String("host", qdrantHost),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return vstore, nil
}

// buildHistoryStore opens the question/answer history database.
// DOCRAG_HISTORY_DB overrides the default path (~/.docrag/history.db);
// set it to "disabled" to turn history off. Failures disable history with a
// warning rather than aborting the command.
func buildHistoryStore(log *slog.Logger) store.HistoryStore {
	dbPath := os.Getenv("DOCRAG_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via DOCRAG_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", dbPath))
	return hs
}

// buildSession wires the full pipeline: splitter, embedder, vector store,
// retriever, generator, and history. The returned session owns the store and
// history handles; callers must Close it.
func buildSession(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pipeline.Session, error) {
	split, err := splitter.New(cfg.ChunkSize, cfg.ChunkOverlap, cfg.Separators)
	if err != nil {
		return nil, fmt.Errorf("initialising splitter: %w", err)
	}

	if err := embedder.Validate(log, cfg.Embeddings.ModelName); err != nil {
		return nil, fmt.Errorf("embedder configuration: %w", err)
	}
	emb, err := embedder.New(cfg.Embeddings.ModelName)
	if err != nil {
		return nil, fmt.Errorf("initialising embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.String("model", cfg.Embeddings.ModelName),
		slog.String("device", cfg.Embeddings.Device),
	)

	vstore, err := buildVectorStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	retriever, err := rag.NewRetriever(emb, vstore, cfg.Retrieval.K, cfg.Retrieval.ScoreThreshold)
	if err != nil {
		_ = vstore.Close()
		return nil, fmt.Errorf("initialising retriever: %w", err)
	}

	chatModel, err := provider.NewFromEnv(ctx, cfg.LLM.ModelName, cfg.LLM.Temperature, cfg.LLM.MaxTokens)
	if err != nil {
		_ = vstore.Close()
		return nil, fmt.Errorf("initialising model provider: %w", err)
	}
	gen, err := generator.New(chatModel, "")
	if err != nil {
		_ = vstore.Close()
		return nil, fmt.Errorf("initialising generator: %w", err)
	}

	session, err := pipeline.New(ctx, &pipeline.Config{
		Splitter:     split,
		Embedder:     emb,
		Store:        vstore,
		Retriever:    retriever,
		Generator:    gen,
		History:      buildHistoryStore(log),
		Collection:   cfg.VectorStore.CollectionName,
		SnapshotPath: cfg.SnapshotPath(),
		RetrievalK:   cfg.Retrieval.K,
	})
	if err != nil {
		_ = vstore.Close()
		return nil, fmt.Errorf("initialising pipeline: %w", err)
	}
	return session, nil
}

// buildPingers assembles the dependency probes for GET /api/ready: the
// embedding backend plus Qdrant when it backs the index.
func buildPingers(vstore rag.VectorStore) []server.Pinger {
	var pingers []server.Pinger

	switch embedder.Backend() {
	case "openai", "azure":
		base := strings.TrimRight(getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")
		headers := map[string]string{}
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			headers["Authorization"] = "Bearer " + key
		}
		pingers = append(pingers, server.NewHTTPPinger("openai", base+"/models", headers))
	default:
		host := strings.TrimRight(getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"), "/")
		pingers = append(pingers, server.NewHTTPPinger("ollama", host+"/api/tags", nil))
	}

	if qs, ok := vstore.(*rag.QdrantStore); ok {
		pingers = append(pingers, server.NewQdrantPinger(qs.Client()))
	}
	return pingers
}

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as an int, or fallback when unset
// or unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
