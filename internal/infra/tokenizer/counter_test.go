package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
)

func TestEstimateApproximatesByRunes(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 4, Estimate(strings.Repeat("a", 12)))

	// バイト数ではなくルーン数で概算する
	assert.Equal(t, 4, Estimate(strings.Repeat("ñ", 12)))
}

func TestEstimateCounterCountsLikeEstimate(t *testing.T) {
	var counter chunk.TokenCounter = EstimateCounter{}

	text := "La economía creció durante el último trimestre del año."
	assert.Equal(t, Estimate(text), counter.Count(text))
}
