package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/ragflow-go/internal/docstore"
	"github.com/54b3r/ragflow-go/internal/embedder"
	"github.com/54b3r/ragflow-go/internal/graph"
	"github.com/54b3r/ragflow-go/internal/oracle"
	"github.com/54b3r/ragflow-go/internal/provider"
	"github.com/54b3r/ragflow-go/internal/server"
	"github.com/54b3r/ragflow-go/internal/store"
)

// buildDocStore constructs the embedder and the Qdrant-backed document store
// from environment variables. The returned store owns the gRPC connection;
// callers must Close it.
func buildDocStore(ctx context.Context, log *slog.Logger) (*docstore.QdrantStore, docstore.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "ragflow-docs")
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	docs, err := docstore.NewQdrantStore(ctx, emb, &docstore.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}

	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)

	return docs, emb, nil
}

// buildOracles constructs the LLM-backed oracles and the Tavily web searcher
// that the retrieval graph consults.
func buildOracles(chatModel model.ToolCallingChatModel) (graph.Oracles, error) {
	llm, err := oracle.NewLLM(chatModel, getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0))
	if err != nil {
		return graph.Oracles{}, err
	}

	searcher, err := oracle.NewTavilySearcher(&oracle.TavilyConfig{
		BaseURL:    os.Getenv("TAVILY_ENDPOINT"),
		APIKey:     os.Getenv("TAVILY_API_KEY"),
		MaxResults: getEnvInt("TAVILY_MAX_RESULTS", 0),
	})
	if err != nil {
		return graph.Oracles{}, fmt.Errorf("web search unavailable (set TAVILY_API_KEY): %w", err)
	}

	return graph.Oracles{
		Router:              llm,
		RetrievalGrader:     llm,
		HallucinationGrader: llm,
		AnswerGrader:        llm,
		Generator:           llm,
		WebSearcher:         searcher,
	}, nil
}

// buildEngine wires the document store and oracles into a retrieval graph
// engine ready to answer questions.
func buildEngine(docs *docstore.QdrantStore, chatModel model.ToolCallingChatModel, topK int) (*graph.Engine, error) {
	oracles, err := buildOracles(chatModel)
	if err != nil {
		return nil, err
	}
	return graph.New(docs, oracles, graph.Config{TopK: topK})
}

// openQueryLog opens the SQLite query log. RAGFLOW_HISTORY_DB overrides the
// default path (~/.ragflow/history.db); "disabled" turns logging off. Failures
// are downgraded to warnings — query answering never depends on the log.
// The returned cleanup func is always safe to call.
func openQueryLog(log *slog.Logger) (store.QueryLog, func()) {
	dbPath := os.Getenv("RAGFLOW_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via RAGFLOW_HISTORY_DB=disabled")
		return nil, func() {}
	}

	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
		dbPath = p
	}

	ql, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open query log, disabling", slog.Any("error", err))
		return nil, func() {}
	}

	log.Info("history: query log opened", slog.String("path", dbPath))
	return ql, func() { _ = ql.Close() }
}

// buildPingers assembles the readiness probes for the HTTP server.
func buildPingers(docs *docstore.QdrantStore, emb docstore.Embedder, chatModel model.ToolCallingChatModel, providerCfg *provider.Config) []server.Pinger {
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	return []server.Pinger{
		server.NewQdrantPinger(docs.Client()),
		server.NewEmbedderPinger(emb, embBackend),
		server.NewLLMPinger(chatModel, string(providerCfg.Backend)),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
