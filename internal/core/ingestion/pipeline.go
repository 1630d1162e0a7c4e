package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
)

const (
	// DefaultWorkerCount はデフォルトの正規化・チャンク分割ワーカー数（CPUバウンド）
	DefaultWorkerCount = 4
	// DefaultMaxChunks は1記事あたりのデフォルト最大チャンク数
	DefaultMaxChunks = 5

	// textHeadLimit はペイロードに保存するチャンク先頭テキストの最大ルーン数
	textHeadLimit = 1200
)

// PipelineConfig はパイプライン処理の設定
type PipelineConfig struct {
	// WorkerCount は正規化・チャンク分割ワーカー数
	// Embedding/Upsertはレート制限尊重のため常に直列実行される
	WorkerCount int
	// MaxChunks は1記事あたりの最大チャンク数（0で無制限）
	MaxChunks int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		WorkerCount: DefaultWorkerCount,
		MaxChunks:   DefaultMaxChunks,
	}
}

// Report はインデックス実行の結果カウントです
type Report struct {
	ArticlesIndexed int `json:"articlesIndexed"`
	ChunksIndexed   int `json:"chunksIndexed"`
	ArticlesSkipped int `json:"articlesSkipped"`
}

// articleResult は正規化・チャンク分割ステージの出力
type articleResult struct {
	article *Article
	chunks  []chunk.Chunk
	skipped bool
}

// IndexPipeline は Normalizer → Chunker → Embedder → VectorStore の
// 一連の流れを1バッチの記事に対して実行します
//
// 各記事は独立に処理され、品質リジェクトされた記事は他の記事の処理を
// 妨げません。EmbedderまたはVectorStoreの致命的エラーは未処理の記事の
// 処理だけを中止し、Upsert済みのポイントはそのまま残ります
type IndexPipeline struct {
	normalizer *Normalizer
	chunker    chunk.Chunker
	embedder   Embedder
	store      VectorStore
	config     *PipelineConfig
	logger     *slog.Logger
}

type pipelineOptions struct {
	config *PipelineConfig
	logger *slog.Logger
}

// PipelineOption は IndexPipeline のオプション設定
type PipelineOption func(*pipelineOptions)

// WithPipelineConfig はパイプライン設定を上書きする
func WithPipelineConfig(config *PipelineConfig) PipelineOption {
	return func(o *pipelineOptions) {
		o.config = config
	}
}

// WithPipelineLogger はロガーを設定する
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(o *pipelineOptions) {
		o.logger = logger
	}
}

// NewIndexPipeline は新しい IndexPipeline を作成する
func NewIndexPipeline(
	normalizer *Normalizer,
	chunker chunk.Chunker,
	embedder Embedder,
	store VectorStore,
	opts ...PipelineOption,
) *IndexPipeline {
	options := pipelineOptions{
		config: DefaultPipelineConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.config == nil {
		options.config = DefaultPipelineConfig()
	}
	if options.config.WorkerCount <= 0 {
		options.config.WorkerCount = DefaultWorkerCount
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &IndexPipeline{
		normalizer: normalizer,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		config:     options.config,
		logger:     options.logger,
	}
}

// Run は記事バッチをインデックス化し、処理件数のレポートを返す
//
// ctxのキャンセルは新規記事のスケジューリングを止めるが、実行中の
// Embedding/Upsert呼び出しは完了まで継続する（書きかけポイントを防ぐ）
func (p *IndexPipeline) Run(ctx context.Context, articles []*Article) (*Report, error) {
	report := &Report{}
	if len(articles) == 0 {
		return report, nil
	}

	// コレクションの初期化は最初のUpsertより前に必須
	if err := p.store.EnsureCollection(ctx, p.embedder.Dimension()); err != nil {
		return report, fmt.Errorf("failed to ensure collection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan *Article)
	results := make(chan *articleResult, len(articles))

	// Stage 1: 記事をワーカーに供給する
	go func() {
		defer close(jobs)
		for _, article := range articles {
			select {
			case jobs <- article:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Stage 2: 正規化 + チャンク分割ワーカー（CPUバウンド、共有状態なし）
	var wg sync.WaitGroup
	wg.Add(p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		go func() {
			defer wg.Done()
			p.prepareWorker(ctx, jobs, results)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Stage 3: Embedding生成 + Upsert（リモートのレート制限を尊重して直列）
	// 実行中の呼び出しはキャンセルで強制中断しない
	callCtx := context.WithoutCancel(ctx)

	var runErr error
	for result := range results {
		if result.skipped {
			report.ArticlesSkipped++
			continue
		}

		// 致命的エラー発生後は残りの記事を処理しない
		if runErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			continue
		}

		chunksIndexed, err := p.indexArticle(callCtx, result.article, result.chunks)
		if err != nil {
			p.logger.Error("インデックス実行を中止",
				"articleID", result.article.ID,
				"error", err,
			)
			runErr = err
			cancel()
			continue
		}

		report.ArticlesIndexed++
		report.ChunksIndexed += chunksIndexed
	}

	if runErr == nil {
		runErr = ctx.Err()
	}

	return report, runErr
}

// prepareWorker は記事の正規化とチャンク分割を行う
// 品質リジェクトは記事単位のスキップとして扱い、実行を継続する
func (p *IndexPipeline) prepareWorker(ctx context.Context, jobs <-chan *Article, results chan<- *articleResult) {
	for article := range jobs {
		result := p.prepareArticle(ctx, article)
		select {
		case results <- result:
		case <-ctx.Done():
			return
		}
	}
}

// prepareArticle は1記事を正規化してチャンクに分割する
func (p *IndexPipeline) prepareArticle(ctx context.Context, article *Article) *articleResult {
	doc, err := p.normalizer.Normalize(article.ID, article.RawText)
	if err != nil {
		if errors.Is(err, ErrQualityRejected) {
			p.logger.Debug("品質フィルタで記事をスキップ",
				"articleID", article.ID,
				"url", article.URL,
				"reason", err,
			)
		} else {
			p.logger.Warn("記事の正規化に失敗、スキップ",
				"articleID", article.ID,
				"error", err,
			)
		}
		return &articleResult{article: article, skipped: true}
	}

	chunks, err := p.chunker.Split(ctx, article.ID, doc.Text)
	if err != nil || len(chunks) == 0 {
		p.logger.Warn("チャンク分割に失敗、記事をスキップ",
			"articleID", article.ID,
			"error", err,
		)
		return &articleResult{article: article, skipped: true}
	}

	if p.config.MaxChunks > 0 && len(chunks) > p.config.MaxChunks {
		chunks = chunks[:p.config.MaxChunks]
	}

	return &articleResult{article: article, chunks: chunks}
}

// indexArticle は1記事分のチャンクをEmbedding化してストアへUpsertする
func (p *IndexPipeline) indexArticle(ctx context.Context, article *Article, chunks []chunk.Chunk) (int, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := make([]IndexedPoint, len(chunks))
	for i, c := range chunks {
		points[i] = IndexedPoint{
			ChunkID: c.ChunkID,
			Vector:  vectors[i],
			Payload: PointPayload{
				ArticleID:   article.ID,
				Source:      article.Source,
				Title:       article.Title,
				URL:         article.URL,
				PublishedAt: article.PublishedAt,
				Ordinal:     c.Ordinal,
				Snippet:     FirstCleanSentence(c.Text),
				TextHead:    truncateRunes(c.Text, textHeadLimit),
				Strategy:    string(c.Strategy),
				ModelName:   p.embedder.ModelName(),
			},
		}
	}

	if err := p.store.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to upsert points: %w", err)
	}

	return len(points), nil
}
