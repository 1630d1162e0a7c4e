package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

// Store は pgvector を使った ingestion.VectorStore 実装
//
// チャンクは chunk_points テーブルに1行ずつ保存され、chunk_idが主キー。
// 類似度はコサイン距離から導出する（score = 1 - distance）
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewStore は新しい Store を作成する
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ ingestion.VectorStore = (*Store)(nil)

// EnsureCollection はテーブルとインデックスを冪等にセットアップする
// 既存テーブルのベクトル次元がdimensionと異なる場合はErrDimensionMismatchを返す
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ingestion.ErrDimensionMismatch, dimension)
	}

	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	existing, err := s.existingDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 && existing != dimension {
		return fmt.Errorf("%w: collection has dimension %d, embedder produces %d",
			ingestion.ErrDimensionMismatch, existing, dimension)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunk_points (
			chunk_id     text PRIMARY KEY,
			article_id   uuid NOT NULL,
			source       text NOT NULL,
			title        text NOT NULL,
			url          text NOT NULL,
			published_at timestamptz NOT NULL,
			ordinal      integer NOT NULL,
			snippet      text NOT NULL,
			text_head    text NOT NULL,
			strategy     text NOT NULL,
			model_name   text NOT NULL,
			embedding    vector(%d) NOT NULL,
			updated_at   timestamptz NOT NULL DEFAULT now()
		)`, dimension)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create chunk_points table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS chunk_points_embedding_idx
			ON chunk_points USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS chunk_points_article_idx
			ON chunk_points (article_id)`,
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.dimension = dimension
	return nil
}

// existingDimension は既存のembeddingカラムの次元を返す（テーブル未作成なら0）
func (s *Store) existingDimension(ctx context.Context) (int, error) {
	var atttypmod int
	err := s.pool.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relname = 'chunk_points' AND a.attname = 'embedding'
	`).Scan(&atttypmod)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect embedding column: %w", err)
	}

	// vector型のatttypmodは次元そのもの
	return atttypmod, nil
}

// Upsert はポイント群を書き込む。既存chunk_idの行は上書きされる
func (s *Store) Upsert(ctx context.Context, points []ingestion.IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}

	for _, point := range points {
		if s.dimension > 0 && len(point.Vector) != s.dimension {
			return fmt.Errorf("%w: point %s has dimension %d, collection expects %d",
				ingestion.ErrDimensionMismatch, point.ChunkID, len(point.Vector), s.dimension)
		}
	}

	batch := &pgx.Batch{}
	for _, point := range points {
		batch.Queue(`
			INSERT INTO chunk_points (
				chunk_id, article_id, source, title, url, published_at,
				ordinal, snippet, text_head, strategy, model_name, embedding, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
			ON CONFLICT (chunk_id) DO UPDATE SET
				article_id   = EXCLUDED.article_id,
				source       = EXCLUDED.source,
				title        = EXCLUDED.title,
				url          = EXCLUDED.url,
				published_at = EXCLUDED.published_at,
				ordinal      = EXCLUDED.ordinal,
				snippet      = EXCLUDED.snippet,
				text_head    = EXCLUDED.text_head,
				strategy     = EXCLUDED.strategy,
				model_name   = EXCLUDED.model_name,
				embedding    = EXCLUDED.embedding,
				updated_at   = now()`,
			point.ChunkID,
			point.Payload.ArticleID,
			point.Payload.Source,
			point.Payload.Title,
			point.Payload.URL,
			point.Payload.PublishedAt,
			point.Payload.Ordinal,
			point.Payload.Snippet,
			point.Payload.TextHead,
			point.Payload.Strategy,
			point.Payload.ModelName,
			pgvector.NewVector(point.Vector),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert point: %w", err)
		}
	}
	return nil
}

// Search は類似度降順のチャンクヒットを返す
// コサイン距離の昇順で並べ、同距離はpublished_atの新しい順を優先する
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]ingestion.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, collection expects %d",
			ingestion.ErrDimensionMismatch, len(vector), s.dimension)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, article_id, source, title, url, published_at,
		       ordinal, snippet, text_head, strategy, model_name,
		       1 - (embedding <=> $1) AS score
		FROM chunk_points
		ORDER BY embedding <=> $1 ASC, published_at DESC
		LIMIT $2`,
		pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunk points: %w", err)
	}
	defer rows.Close()

	hits := make([]ingestion.Hit, 0, topK)
	for rows.Next() {
		var hit ingestion.Hit
		if err := rows.Scan(
			&hit.ChunkID,
			&hit.Payload.ArticleID,
			&hit.Payload.Source,
			&hit.Payload.Title,
			&hit.Payload.URL,
			&hit.Payload.PublishedAt,
			&hit.Payload.Ordinal,
			&hit.Payload.Snippet,
			&hit.Payload.TextHead,
			&hit.Payload.Strategy,
			&hit.Payload.ModelName,
			&hit.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hits: %w", err)
	}

	return hits, nil
}
