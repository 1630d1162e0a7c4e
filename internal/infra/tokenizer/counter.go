package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
)

// Counter はtiktokenを使ってテキストのトークン数をカウントする
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は新しいCounterを作成する
// cl100k_baseエンコーディングを使用する
func NewCounter() (*Counter, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &Counter{
		encoding: encoding,
	}, nil
}

var _ chunk.TokenCounter = (*Counter)(nil)

// Count はテキストのトークン数を返す
func (c *Counter) Count(text string) int {
	if c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Estimate はエンコーディングを使わない大まかなトークン数の推定値を返す
// 平均3文字で1トークンとして扱う
func Estimate(text string) int {
	return len([]rune(text)) / 3
}

// EstimateCounter はEstimateによる概算で動く chunk.TokenCounter 実装
// tiktokenのエンコーディング取得に失敗した場合の代替として使う
type EstimateCounter struct{}

var _ chunk.TokenCounter = EstimateCounter{}

// Count はテキストの概算トークン数を返す
func (EstimateCounter) Count(text string) int {
	return Estimate(text)
}
