// VERITAS engine server: hosts the HTTP API, the multi-agent research
// pipeline, and the hybrid retrieval backends.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/veritas-engine/veritas/pkg/agents"
	"github.com/veritas-engine/veritas/pkg/api"
	"github.com/veritas-engine/veritas/pkg/budget"
	"github.com/veritas-engine/veritas/pkg/config"
	"github.com/veritas-engine/veritas/pkg/intent"
	"github.com/veritas-engine/veritas/pkg/llm"
	"github.com/veritas-engine/veritas/pkg/pipeline"
	"github.com/veritas-engine/veritas/pkg/retrieval"
	"github.com/veritas-engine/veritas/pkg/store"
	"github.com/veritas-engine/veritas/pkg/streaming"
	"github.com/veritas-engine/veritas/pkg/synthesis"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting VERITAS",
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize persistence. The JSON fallback is always available; the
	// primary database is optional so an outage degrades the engine instead
	// of keeping it down.
	fallback, err := store.NewFallbackStore(getEnv("FALLBACK_DIR", "./data/fallback"))
	if err != nil {
		slog.Error("Failed to open fallback store", "error", err)
		os.Exit(1)
	}

	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	var st store.Store
	var primary *store.PostgresStore
	primary, err = store.NewPostgresStore(ctx, dbConfig)
	if err != nil {
		slog.Warn("PostgreSQL unavailable, running on JSON fallback only", "error", err)
		primary = nil
		st = fallback
	} else {
		dual := store.NewDualStore(primary, fallback, slog.Default())
		if err := dual.Replay(ctx); err != nil {
			slog.Warn("Fallback replay failed, diverted records kept on disk", "error", err)
		}
		st = dual
		slog.Info("Connected to PostgreSQL database")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// 3. Create LLM client and model registry
	llmClient, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "base_url", cfg.LLM.BaseURL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	modelRegistry := llm.NewModelRegistry(cfg.Models, cfg.LLM.DefaultModel)
	modelRegistry.Sync(ctx, llmClient)
	slog.Info("LLM client initialized",
		"base_url", cfg.LLM.BaseURL,
		"default_model", cfg.LLM.DefaultModel)

	// 4. Assemble the hybrid retriever. DB-backed backends are only wired
	// when the primary database is up; the retriever skips nil backends.
	retriever := buildRetriever(ctx, cfg, primary, llmClient)

	// 5. Register the built-in agents
	agentRegistry := agents.NewRegistry()
	for _, a := range agents.BuildBuiltins(cfg.AgentRegistry, retriever, llmClient, cfg.LLM.DefaultModel) {
		agentRegistry.Register(a)
	}
	router := agents.NewRouter(agentRegistry)
	slog.Info("Agents registered", "count", len(agentRegistry.Snapshot()))

	// 6. Shared pipeline components
	hub := streaming.NewHub(cfg.Streaming)
	factory := pipeline.NewFactory(pipeline.Deps{
		Analyzer:    intent.NewAnalyzer(cfg.Domains, intent.WithLLMFallback(llmClient, cfg.LLM.DefaultModel)),
		Calculator:  budget.NewCalculator(cfg.Budget),
		Window:      budget.NewWindowManager(cfg.Budget),
		Registry:    agentRegistry,
		Router:      router,
		Synthesizer: synthesis.NewSynthesizer(llmClient, slog.Default()),
		Store:       st,
		Models:      modelRegistry,
		Hub:         hub,
		Config:      cfg.Pipeline,
		Logger:      slog.Default(),
	})

	// 7. Create HTTP server
	httpServer := api.NewServer(factory, st, hub, agentRegistry, modelRegistry, slog.Default())

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("VERITAS started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop accepting requests, then give running
	// plans the executor's grace period to wind down.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	deadline := time.Now().Add(cfg.Pipeline.GracePeriod)
	for factory.ActiveCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := factory.ActiveCount(); n > 0 {
		slog.Warn("Shutdown with plans still active", "count", n)
	}

	slog.Info("Shutdown complete")
}

// buildRetriever wires the retrieval backends the configuration enables.
func buildRetriever(ctx context.Context, cfg *config.Config, primary *store.PostgresStore, llmClient llm.Client) *retrieval.Retriever {
	opts := retrieval.Options{
		Embedder: retrieval.NewOpenAIEmbedder(
			llm.NewEmbeddingClient(cfg.LLM),
			getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		),
	}

	if primary != nil {
		opts.Vector = retrieval.NewPgVectorStore(primary.DB())
		if cfg.Retrieval.EnableHybridSearch {
			opts.Graph = retrieval.NewPostgresGraphStore(primary.DB())
		}
	}

	if cfg.Retrieval.EnableHybridSearch && cfg.Retrieval.EnableSparse {
		bm25 := retrieval.NewBM25Index(cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B)
		if primary != nil {
			chunks, err := primary.EvidenceChunks(ctx)
			if err != nil {
				slog.Warn("Sparse index hydration failed, BM25 starts empty", "error", err)
			}
			for _, c := range chunks {
				bm25.Add(c)
			}
			slog.Info("Sparse index hydrated", "chunks", bm25.Len())
		}
		opts.Sparse = bm25
	}

	if cfg.Retrieval.EnableReranking {
		if endpoint := os.Getenv("RERANK_ENDPOINT"); endpoint == "" {
			slog.Warn("Reranking enabled but RERANK_ENDPOINT is not set, skipping")
		} else {
			var reranker retrieval.Reranker = retrieval.NewHTTPReranker(endpoint, 10*time.Second)
			if addr := os.Getenv("REDIS_ADDR"); addr != "" {
				cache := retrieval.NewRedisScoreCache(
					redis.NewClient(&redis.Options{Addr: addr}), time.Hour)
				reranker = retrieval.NewCachedReranker(reranker, cache)
				slog.Info("Rerank score cache enabled", "redis", addr)
			}
			opts.Reranker = reranker
		}
	}

	if cfg.Retrieval.EnableQueryExpansion {
		opts.Expander = retrieval.NewLLMQueryExpander(llmClient, cfg.LLM.DefaultModel)
	}

	return retrieval.NewRetriever(cfg.Retrieval, opts)
}
