package ingestion

import "context"

// VectorStore はチャンクIDをキーとするポイントインデックスへの操作契約です
type VectorStore interface {
	// EnsureCollection はコレクションを冪等にセットアップします
	// 最初のUpsertより前に呼ぶ必要があります。既存コレクションと次元が
	// 一致しない場合はErrDimensionMismatchを返します（致命的、リトライ不可）
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert はポイント群を書き込みます。既存のchunk_idに対する書き込みは
	// ベクトルとペイロードを置き換えます（冪等）。ベクトル次元がコレクション
	// と一致しない場合はErrDimensionMismatchを返します
	Upsert(ctx context.Context, points []IndexedPoint) error

	// Search は類似度降順のチャンクヒットを返します
	// スコアが同点の場合はpublished_atの新しい順で優先されます
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
}
