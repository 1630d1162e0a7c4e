package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/jinford/news-rag/internal/platform/retry"
)

// Embedder はテキストをベクトルに変換するバックエンドインターフェース
// ローカルモデルとリモートAPIの両方が同じバッチ契約を実装します
type Embedder interface {
	// BatchEmbed はテキスト列のEmbeddingを入力と同順・同数で生成します
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName はモデル名を返します
	ModelName() string

	// Dimension はベクトル次元数を返します
	Dimension() int

	// MaxBatchSize は1回の呼び出しで受け付ける最大テキスト数を返します
	MaxBatchSize() int

	// Classify はバックエンド固有のエラーをリトライ分類に対応付けます
	Classify(err error) retry.Class
}

const (
	// DefaultEmbedBatchSize はデフォルトのサブバッチサイズ
	DefaultEmbedBatchSize = 64
)

// Provider はEmbedderバックエンドをラップし、サブバッチ分割・リトライ・
// クォータエラー変換・キャッシュを一箇所に集約します
//
// 契約:
//   - 出力ベクトルの順序は入力テキストの順序と1:1で一致する
//   - いずれかのサブバッチがリトライ予算を使い切った場合、呼び出し全体が
//     失敗し部分的な結果は返さない（チャンクとベクトルの不整合を防ぐ）
//   - クォータ超過によるリトライ枯渇はErrQuotaExceededとして区別される
type Provider struct {
	backend   Embedder
	policy    retry.Policy
	batchSize int
	cache     *ristretto.Cache[string, []float32]
	logger    *slog.Logger
}

type providerOptions struct {
	policy    retry.Policy
	batchSize int
	cacheSize int64
	logger    *slog.Logger
}

// ProviderOption は Provider のオプション設定
type ProviderOption func(*providerOptions)

// WithEmbedRetryPolicy はリトライポリシーを上書きする
func WithEmbedRetryPolicy(policy retry.Policy) ProviderOption {
	return func(o *providerOptions) {
		o.policy = policy
	}
}

// WithEmbedBatchSize はサブバッチサイズを上書きする
// バックエンドのMaxBatchSize()を超える値はクリップされる
func WithEmbedBatchSize(size int) ProviderOption {
	return func(o *providerOptions) {
		o.batchSize = size
	}
}

// WithEmbedCacheSize はEmbeddingキャッシュの最大コストを設定する（0で無効）
func WithEmbedCacheSize(size int64) ProviderOption {
	return func(o *providerOptions) {
		o.cacheSize = size
	}
}

// WithEmbedLogger はロガーを設定する
func WithEmbedLogger(logger *slog.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// NewProvider は新しい Provider を作成する
func NewProvider(backend Embedder, opts ...ProviderOption) (*Provider, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder backend is required")
	}

	options := providerOptions{
		policy:    retry.DefaultPolicy(),
		batchSize: DefaultEmbedBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// サブバッチサイズをバックエンドの最大値でクリップ
	batchSize := options.batchSize
	if max := backend.MaxBatchSize(); max > 0 && batchSize > max {
		options.logger.Info("サブバッチサイズをバックエンドの最大値でクリップ",
			"configured", batchSize,
			"max", max,
		)
		batchSize = max
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	var cache *ristretto.Cache[string, []float32]
	if options.cacheSize > 0 {
		var err error
		cache, err = ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters: 100_000,
			MaxCost:     options.cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
	}

	return &Provider{
		backend:   backend,
		policy:    options.policy,
		batchSize: batchSize,
		cache:     cache,
		logger:    options.logger,
	}, nil
}

var _ Embedder = (*Provider)(nil)

// Embed は単一テキストのEmbeddingを生成する
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}
	return vectors[0], nil
}

// BatchEmbed は任意長のテキスト列をサブバッチに分割してEmbeddingを生成する
// サブバッチのリモート呼び出しは直列に実行される（レート制限の尊重）
func (p *Provider) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	// キャッシュヒット分を先に埋め、ミス分だけをバックエンドへ送る
	missIndexes := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if p.cache != nil {
			if vector, ok := p.cache.Get(p.cacheKey(text)); ok {
				out[i] = vector
				continue
			}
		}
		missIndexes = append(missIndexes, i)
		missTexts = append(missTexts, text)
	}

	for start := 0; start < len(missTexts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		sub := missTexts[start:end]

		vectors, err := retry.Do(ctx, p.policy, p.backend.Classify, func(ctx context.Context) ([][]float32, error) {
			return p.backend.BatchEmbed(ctx, sub)
		})
		if err != nil {
			// 部分的な成功があっても呼び出し全体を失敗させる
			return nil, p.translateError(err)
		}
		if len(vectors) != len(sub) {
			return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(vectors), len(sub))
		}

		for i, vector := range vectors {
			idx := missIndexes[start+i]
			out[idx] = vector
			if p.cache != nil {
				p.cache.Set(p.cacheKey(texts[idx]), vector, int64(len(vector)*4))
			}
		}
	}

	return out, nil
}

// ModelName はバックエンドのモデル名を返す
func (p *Provider) ModelName() string {
	return p.backend.ModelName()
}

// Dimension はバックエンドのベクトル次元数を返す
func (p *Provider) Dimension() int {
	return p.backend.Dimension()
}

// MaxBatchSize はラッパーとしては任意長を受け付けるため、サブバッチサイズを返す
func (p *Provider) MaxBatchSize() int {
	return p.batchSize
}

// Classify はバックエンドの分類をそのまま返す
func (p *Provider) Classify(err error) retry.Class {
	return p.backend.Classify(err)
}

// translateError はリトライ枯渇をドメインのエラー種別に変換する
// クォータ起因の枯渇は一般エラーと区別してErrQuotaExceededで返す
func (p *Provider) translateError(err error) error {
	if retry.IsExhausted(err, retry.ClassQuota) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return fmt.Errorf("embedding failed: %w", err)
}

// cacheKey はモデル名とテキストから決定的なキャッシュキーを生成する
func (p *Provider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(p.backend.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
