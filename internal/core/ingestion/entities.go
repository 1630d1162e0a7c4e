package ingestion

import (
	"time"

	"github.com/google/uuid"
)

// === Article集約 ===

// Article は取り込み元から受け取った記事を表します
// 取り込みコラボレータ（RSS等）が生成し、1回のインデックス実行の間だけ保持されます
type Article struct {
	ID          uuid.UUID `json:"id"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Title       string    `json:"title"`
	RawText     string    `json:"rawText"`
}

// NewArticleID は記事URLから決定的なIDを生成します
func NewArticleID(url string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url))
}

// CleanedDocument は正規化済みの記事本文を表します
// 品質フィルタを通過した場合のみ生成される一時的なデータです
type CleanedDocument struct {
	ArticleID    uuid.UUID
	Text         string
	QualityScore float64
}

// === VectorStore関連 ===

// PointPayload はベクトルポイントに付随するメタデータです
type PointPayload struct {
	ArticleID   uuid.UUID `json:"articleID"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Ordinal     int       `json:"ordinal"`
	Snippet     string    `json:"snippet"`
	TextHead    string    `json:"textHead"`
	Strategy    string    `json:"strategy"`
	ModelName   string    `json:"modelName"`
}

// IndexedPoint はベクトルストアに保存される1レコードです
// ChunkIDが主キーであり、同一IDへのUpsertは上書きになります
type IndexedPoint struct {
	ChunkID string
	Vector  []float32
	Payload PointPayload
}

// Hit はベクトル検索の1ヒットを表します
type Hit struct {
	ChunkID string
	Score   float64
	Payload PointPayload
}
