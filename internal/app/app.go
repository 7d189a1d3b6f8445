package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/svscope/svscope/internal/config"
	"github.com/svscope/svscope/internal/core"
	db "github.com/svscope/svscope/internal/core/database"
	"github.com/svscope/svscope/internal/core/llm"
	"github.com/svscope/svscope/internal/core/objectclient"
	"github.com/svscope/svscope/internal/services"
)

// App owns every long-lived dependency of the API service.
type App struct {
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Embedder     core.EmbeddingProvider
	LLM          core.LLMProvider
	Retrieval    *services.RetrievalService
	RAG          *services.RAGService
	Server       *Server
	Log          *logrus.Logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := newLogger(cfg.LogLevel)

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Info("database initialized and ready")

	// Thumbnail serving degrades to upstream redirects without S3.
	var objClient core.ObjectClient
	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" {
		objClient, err = objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init object client: %w", err)
		}
	} else {
		log.Warn("AWS credentials not set, thumbnail cache disabled")
	}

	embedder, err := newEmbedder(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	retrieval := services.NewRetrievalService(dbClient, embedder, log)
	rag := services.NewRAGService(dbClient, retrieval, llmProvider, log)

	server := NewServer(cfg, dbClient, objClient, retrieval, rag, log)

	return &App{
		DBClient:     dbClient,
		ObjectClient: objClient,
		Embedder:     embedder,
		LLM:          llmProvider,
		Retrieval:    retrieval,
		RAG:          rag,
		Server:       server,
		Log:          log,
	}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}

// newEmbedder picks the embedding backend from configuration.
func newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedBackend {
	case "ollama":
		return llm.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbedModel, cfg.EmbedDim), nil
	case "gemini", "":
		return llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	default:
		return nil, fmt.Errorf("unknown embedding backend: %q", cfg.EmbedBackend)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
