package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/news-rag/internal/core/ingestion"
	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
	"github.com/jinford/news-rag/internal/core/search"
	"github.com/jinford/news-rag/internal/infra/local"
	"github.com/jinford/news-rag/internal/infra/memory"
	"github.com/jinford/news-rag/internal/infra/openai"
	"github.com/jinford/news-rag/internal/infra/postgres"
	"github.com/jinford/news-rag/internal/infra/rss"
	"github.com/jinford/news-rag/internal/infra/tokenizer"
	"github.com/jinford/news-rag/internal/platform/logger"
	"github.com/jinford/news-rag/internal/platform/retry"
	"github.com/jinford/news-rag/pkg/config"
	"github.com/jinford/news-rag/pkg/db"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config   *config.Config
	Database *db.DB // memoryストア使用時はnil
	Embedder *ingestion.Provider
	Store    ingestion.VectorStore
	Pipeline *ingestion.IndexPipeline
	Searcher *search.Service
	Feeds    *rss.Provider
	Logger   *slog.Logger
}

// NewAppContext は設定を読み込み、依存関係を組み立てて AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	backend, err := newEmbedderBackend(cfg)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	if cfg.Embedding.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Embedding.MaxAttempts
		policy.QuotaMaxAttempts = cfg.Embedding.MaxAttempts
	}

	provider, err := ingestion.NewProvider(backend,
		ingestion.WithEmbedRetryPolicy(policy),
		ingestion.WithEmbedBatchSize(cfg.Embedding.BatchSize),
		ingestion.WithEmbedCacheSize(cfg.Embedding.CacheSize),
		ingestion.WithEmbedLogger(appLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("embedderの初期化に失敗: %w", err)
	}

	chunker, err := newChunker(cfg, policy, appLogger)
	if err != nil {
		return nil, fmt.Errorf("chunkerの初期化に失敗: %w", err)
	}

	store, database, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	normalizer := ingestion.NewNormalizer(ingestion.NormalizerConfig{
		MinChars: cfg.Quality.MinChars,
		MinScore: cfg.Quality.MinScore,
	})

	pipeline := ingestion.NewIndexPipeline(normalizer, chunker, provider, store,
		ingestion.WithPipelineConfig(&ingestion.PipelineConfig{
			WorkerCount: ingestion.DefaultWorkerCount,
			MaxChunks:   cfg.Chunking.MaxChunks,
		}),
		ingestion.WithPipelineLogger(appLogger),
	)

	searcher := search.NewService(provider, store,
		search.WithFanOutFactor(cfg.Search.FanOutFactor),
		search.WithMaxSnippets(cfg.Search.MaxSnippets),
		search.WithSearchLogger(appLogger),
	)

	return &AppContext{
		Config:   cfg,
		Database: database,
		Embedder: provider,
		Store:    store,
		Pipeline: pipeline,
		Searcher: searcher,
		Feeds:    rss.NewProvider(rss.WithLogger(appLogger)),
		Logger:   appLogger,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}

// newEmbedderBackend は設定に応じたEmbedderバックエンドを作成する
func newEmbedderBackend(cfg *config.Config) (ingestion.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "local":
		return local.NewEmbedder(local.DefaultDimension), nil
	case "openai", "":
		backend, err := openai.NewEmbedder(cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
		)
		if err != nil {
			return nil, fmt.Errorf("OpenAI embedderの初期化に失敗: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Embedding.Provider)
	}
}

// newChunker は設定に応じたチャンク分割を組み立てる
func newChunker(cfg *config.Config, policy retry.Policy, appLogger *slog.Logger) (chunk.Chunker, error) {
	// tiktokenのエンコーディング取得に失敗した場合はルーン数からの
	// 概算カウンタに切り替えて、チャンク分割自体は続行する
	var counter chunk.TokenCounter
	if c, err := tokenizer.NewCounter(); err != nil {
		appLogger.Warn("トークンカウンタの初期化に失敗、概算カウンタを使用", "error", err)
		counter = tokenizer.EstimateCounter{}
	} else {
		counter = c
	}

	simple, err := chunk.NewSimple(cfg.Chunking.WindowSize, cfg.Chunking.Overlap,
		chunk.WithTokenCounter(counter),
	)
	if err != nil {
		return nil, err
	}

	switch cfg.Chunking.Strategy {
	case "simple", "":
		return simple, nil
	case "agentic":
		segmenter, err := openai.NewSegmenter(cfg.OpenAI.APIKey,
			openai.WithSegmenterModel(cfg.OpenAI.SegmenterModel),
		)
		if err != nil {
			return nil, err
		}

		agentic, err := chunk.NewAgentic(segmenter, simple,
			chunk.WithMaxSegments(cfg.Chunking.MaxChunks),
			chunk.WithRetryPolicy(policy),
			chunk.WithAgenticTokenCounter(counter),
			chunk.WithAgenticLogger(appLogger),
		)
		if err != nil {
			return nil, err
		}

		// 短い記事はLLMを使わずSimpleで分割する
		return chunk.NewThreshold(agentic, simple, cfg.Chunking.AgenticMinChars)
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", chunk.ErrConfig, cfg.Chunking.Strategy)
	}
}

// newStore は設定に応じたベクトルストアを作成する
func newStore(ctx context.Context, cfg *config.Config) (ingestion.VectorStore, *db.DB, error) {
	switch cfg.Store.Provider {
	case "memory":
		return memory.NewStore(), nil, nil
	case "postgres", "":
		database, err := db.New(ctx, db.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("データベース接続に失敗: %w", err)
		}
		return postgres.NewStore(database.Pool), database, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store provider: %q", cfg.Store.Provider)
	}
}
