package chunk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConfig はチャンク分割の設定値が不正なことを表します
// 設定ミスによる致命的エラーであり、リトライされません
var ErrConfig = errors.New("invalid chunker configuration")

// Strategy はチャンク分割戦略の種別を表します
type Strategy string

const (
	StrategySimple  Strategy = "simple"
	StrategyAgentic Strategy = "agentic"
)

// Chunk は文書を分割した1チャンクを表します
// OrdinalとChunkIDは決定的で、スニペット再構成時の並び順の基準になります
type Chunk struct {
	ChunkID     string    `json:"chunkID"`
	ArticleID   uuid.UUID `json:"articleID"`
	Ordinal     int       `json:"ordinal"`
	Text        string    `json:"text"`
	StartOffset int       `json:"startOffset"` // 文書先頭からのルーンオフセット
	EndOffset   int       `json:"endOffset"`
	Strategy    Strategy  `json:"strategy"`
	Fallback    bool      `json:"fallback"` // Agentic失敗時のフォールバックで生成されたか
	TokenCount  int       `json:"tokenCount"`
}

// ChunkID は記事IDと連番から決定的なチャンクIDを生成します
// 同一記事の再インデックスでは同じIDが再利用され、Upsertで上書きされます
func ChunkID(articleID uuid.UUID, ordinal int) string {
	return fmt.Sprintf("%s#%04d", articleID, ordinal)
}

// Chunker はテキストをチャンク列に分割する戦略インターフェース
type Chunker interface {
	// Split は記事本文をチャンクに分割します
	// 返り値の並び順が正準のチャンク順序です
	Split(ctx context.Context, articleID uuid.UUID, text string) ([]Chunk, error)
}

// TokenCounter はテキストのトークン数を数えるインターフェース
// nilの場合、トークン数は記録されません
type TokenCounter interface {
	Count(text string) int
}
