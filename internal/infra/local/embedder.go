package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/jinford/news-rag/internal/core/ingestion"
	"github.com/jinford/news-rag/internal/platform/retry"
)

const (
	// DefaultDimension はローカルEmbeddingのデフォルト次元
	DefaultDimension = 256
	// ModelName はペイロードに記録されるモデル識別子
	ModelName = "local-hash-v1"
)

// Embedder は外部APIに依存しない決定的なEmbedding実装
//
// 単語をハッシュして固定次元のバケツに畳み込む素朴なfeature hashingで、
// 同一テキストは常に同一ベクトルになる。開発環境とテストでリモートAPIを
// 置き換える用途であり、検索品質はリモートモデルに劣る
type Embedder struct {
	dimension int
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

var _ ingestion.Embedder = (*Embedder)(nil)

// BatchEmbed はテキスト列のEmbeddingを入力と同順で生成する
func (e *Embedder) BatchEmbed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

// ModelName はモデル識別子を返す
func (e *Embedder) ModelName() string {
	return ModelName
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

// MaxBatchSize はローカル計算のため実質無制限（大きな固定値）を返す
func (e *Embedder) MaxBatchSize() int {
	return 1024
}

// Classify はローカル計算のエラーを分類する
// リトライで回復する失敗は存在しないため常に致命的とする
func (e *Embedder) Classify(_ error) retry.Class {
	return retry.ClassFatal
}

// embed は1テキストをL2正規化済みのベクトルに変換する
func (e *Embedder) embed(text string) []float32 {
	vector := make([]float32, e.dimension)

	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		bucket := int(sum % uint64(e.dimension))
		// 最上位ビットで符号を決め、バケツ衝突の偏りを打ち消す
		if sum&(1<<63) != 0 {
			vector[bucket] -= 1
		} else {
			vector[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}

	return vector
}

// tokenize はテキストを小文字の単語列に分割する
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
