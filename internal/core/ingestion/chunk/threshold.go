package chunk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DefaultMinRunes は高コストな分割戦略を適用する最小本文長
const DefaultMinRunes = 1500

// ThresholdChunker は本文長に応じて分割戦略を切り替えます
//
// 短い記事はLLMに渡すまでもなく1〜2チャンクに収まるため、
// minRunes未満の本文はsecondary（Simple）で直接分割します
type ThresholdChunker struct {
	primary   Chunker
	secondary Chunker
	minRunes  int
}

// NewThreshold は新しい ThresholdChunker を作成する
func NewThreshold(primary, secondary Chunker, minRunes int) (*ThresholdChunker, error) {
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("%w: both primary and secondary chunkers are required", ErrConfig)
	}
	if minRunes <= 0 {
		minRunes = DefaultMinRunes
	}

	return &ThresholdChunker{
		primary:   primary,
		secondary: secondary,
		minRunes:  minRunes,
	}, nil
}

var _ Chunker = (*ThresholdChunker)(nil)

// Split は本文長がminRunes以上ならprimary、未満ならsecondaryで分割する
func (c *ThresholdChunker) Split(ctx context.Context, articleID uuid.UUID, text string) ([]Chunk, error) {
	if len([]rune(text)) >= c.minRunes {
		return c.primary.Split(ctx, articleID, text)
	}
	return c.secondary.Split(ctx, articleID, text)
}
