package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

// Store はプロセス内で完結する ingestion.VectorStore 実装
//
// 開発環境とテストでPostgreSQLを置き換える用途。永続化はされない
type Store struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]ingestion.IndexedPoint
}

// NewStore は新しい Store を作成する
func NewStore() *Store {
	return &Store{
		points: make(map[string]ingestion.IndexedPoint),
	}
}

var _ ingestion.VectorStore = (*Store)(nil)

// EnsureCollection はコレクションの次元を固定する
// 既に異なる次元で初期化済みの場合はErrDimensionMismatchを返す
func (s *Store) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ingestion.ErrDimensionMismatch, dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("%w: collection has dimension %d, embedder produces %d",
			ingestion.ErrDimensionMismatch, s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

// Upsert はポイント群を書き込む。既存chunk_idのポイントは上書きされる
func (s *Store) Upsert(_ context.Context, points []ingestion.IndexedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, point := range points {
		if s.dimension > 0 && len(point.Vector) != s.dimension {
			return fmt.Errorf("%w: point %s has dimension %d, collection expects %d",
				ingestion.ErrDimensionMismatch, point.ChunkID, len(point.Vector), s.dimension)
		}
	}
	for _, point := range points {
		s.points[point.ChunkID] = point
	}
	return nil
}

// Search はコサイン類似度の降順でチャンクヒットを返す
// 同点はpublished_atの新しい順を優先する
func (s *Store) Search(_ context.Context, vector []float32, topK int) ([]ingestion.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, collection expects %d",
			ingestion.ErrDimensionMismatch, len(vector), s.dimension)
	}

	hits := make([]ingestion.Hit, 0, len(s.points))
	for chunkID, point := range s.points {
		hits = append(hits, ingestion.Hit{
			ChunkID: chunkID,
			Score:   cosineSimilarity(vector, point.Vector),
			Payload: point.Payload,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Payload.PublishedAt.After(hits[j].Payload.PublishedAt)
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len は保存済みポイント数を返す
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// cosineSimilarity は2ベクトルのコサイン類似度を計算する
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
