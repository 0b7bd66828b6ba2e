// Command citeragd runs the document question-answering service: document
// ingestion, retrieval with reranking, and cited answer generation over a
// JSON REST API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"citerag/internal/auth"
	"citerag/internal/config"
	"citerag/internal/embedder"
	"citerag/internal/llm"
	"citerag/internal/memory"
	"citerag/internal/objectstore"
	"citerag/internal/repository"
	"citerag/internal/repository/postgres"
	"citerag/internal/rerank"
	"citerag/internal/segmenter"
	"citerag/internal/server"
	"citerag/internal/service"
	"citerag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting citerag service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"embedder_provider", cfg.EmbedderProvider,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	docRepo := postgres.NewDocumentRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)

	embed, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	slog.Info("initialized embedder", "provider", cfg.EmbedderProvider, "model", embed.ModelName())

	llmClient, model, err := buildLLM(cfg)
	if err != nil {
		return err
	}
	slog.Info("initialized LLM", "provider", cfg.LLMProvider, "model", model)

	seg, err := segmenter.ForStrategy(cfg.ChunkStrategy, segmenter.Config{
		MaxChunkSize: cfg.ChunkMaxSize,
		MinChunkSize: cfg.ChunkMinSize,
		Overlap:      cfg.ChunkOverlap,
	})
	if err != nil {
		return fmt.Errorf("invalid chunk strategy: %w", err)
	}

	reranker, err := rerank.New(rerank.Weights{
		Similarity: cfg.WeightSimilarity,
		Recency:    cfg.WeightRecency,
		Hierarchy:  cfg.WeightHierarchy,
		Adjacency:  cfg.WeightAdjacency,
	})
	if err != nil {
		return fmt.Errorf("invalid rerank weights: %w", err)
	}

	var docOpts []service.DocumentServiceOption
	if cfg.S3AccessKey != "" {
		blobs, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:   cfg.S3Endpoint,
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize object storage: %w", err)
		}
		docOpts = append(docOpts, service.WithBlobStore(blobs))
		slog.Info("initialized object storage", "bucket", cfg.S3Bucket)
	} else {
		slog.Warn("object storage disabled, uploads will not be retrievable")
	}
	docOpts = append(docOpts, service.WithEmbedBatchSize(cfg.EmbedBatchSize))

	sessions := memory.NewStore(20, cfg.ConversationTTL)

	documentSvc := service.NewDocumentService(docRepo, embed, vectorStore, seg, slog.Default(), docOpts...)
	answerSvc := service.NewAnswerService(embed, vectorStore, llmClient, reranker, documentSvc, sessions, slog.Default(), service.AnswerConfig{
		TopK:               cfg.DefaultTopK,
		MinScore:           cfg.DefaultMinScore,
		RetrievalLimit:     cfg.RetrievalLimit,
		AdjacencyThreshold: cfg.AdjacencyThreshold,
		MaxContextTokens:   cfg.MaxContextTokens,
		CharsPerToken:      cfg.CharsPerToken,
		Model:              model,
	})

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "citerag",
	})

	httpServer := server.New(server.Config{
		Port:           cfg.HTTPPort,
		AllowedOrigins: []string{"*"}, // Configure in production
		Logger:         slog.Default(),
		Documents:      documentSvc,
		Answers:        answerSvc,
		Sessions:       sessions,
		Auth:           jwtManager,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "openai":
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIEmbeddingModel,
		})
	case "", "ollama":
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		}), nil
	}
	return nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
}

func buildLLM(cfg *config.Config) (llm.LLM, string, error) {
	switch cfg.LLMProvider {
	case "openai":
		client, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, llm.WithOpenAIModel(cfg.OpenAILLMModel))
		if err != nil {
			return nil, "", err
		}
		return client, cfg.OpenAILLMModel, nil
	case "", "ollama":
		client := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.OllamaLLMModel),
		)
		return client, cfg.OllamaLLMModel, nil
	}
	return nil, "", fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}

// Compile-time interface checks.
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepo)(nil)
	_ vectorstore.VectorStore       = (*vectorstore.QdrantStore)(nil)
	_ server.DocumentAPI            = (*service.DocumentService)(nil)
	_ server.AnswerAPI              = (*service.AnswerService)(nil)
)
