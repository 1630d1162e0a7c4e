package chunk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	// DefaultWindowSize はデフォルトのウィンドウ幅（文字数）
	DefaultWindowSize = 2000
	// DefaultOverlap はデフォルトのオーバーラップ幅（文字数）
	DefaultOverlap = 200
)

// SimpleChunker は固定長の文字ウィンドウをスライドさせるチャンク分割です
// 決定的であり、同じ入力には常に同じチャンク列を返します
type SimpleChunker struct {
	window  int
	overlap int
	counter TokenCounter
}

type simpleOptions struct {
	counter TokenCounter
}

// SimpleOption は SimpleChunker のオプション設定
type SimpleOption func(*simpleOptions)

// WithTokenCounter はチャンクのトークン数記録を有効にする
func WithTokenCounter(counter TokenCounter) SimpleOption {
	return func(o *simpleOptions) {
		o.counter = counter
	}
}

// NewSimple は新しい SimpleChunker を作成する
// overlap は 0 <= overlap < window を満たす必要があり、違反時はErrConfigを返す
func NewSimple(window, overlap int, opts ...SimpleOption) (*SimpleChunker, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive, got %d", ErrConfig, window)
	}
	if overlap < 0 || overlap >= window {
		return nil, fmt.Errorf("%w: overlap must satisfy 0 <= overlap < window, got overlap=%d window=%d", ErrConfig, overlap, window)
	}

	options := simpleOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	return &SimpleChunker{
		window:  window,
		overlap: overlap,
		counter: options.counter,
	}, nil
}

var _ Chunker = (*SimpleChunker)(nil)

// Split はテキストを固定長ウィンドウで分割する
// step = window - overlap で前進し、末尾チャンクはwindowより短くなりうる
func (c *SimpleChunker) Split(ctx context.Context, articleID uuid.UUID, text string) ([]Chunk, error) {
	return c.split(articleID, text, false), nil
}

// split はフォールバックフラグ付きの分割本体
// AgenticChunkerのフォールバック経路からも呼ばれる
func (c *SimpleChunker) split(articleID uuid.UUID, text string, fallback bool) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, n/c.window+1)
	ordinal := 0
	for i := 0; i < n; {
		j := i + c.window
		if j > n {
			j = n
		}

		body := string(runes[i:j])
		chunk := Chunk{
			ChunkID:     ChunkID(articleID, ordinal),
			ArticleID:   articleID,
			Ordinal:     ordinal,
			Text:        body,
			StartOffset: i,
			EndOffset:   j,
			Strategy:    StrategySimple,
			Fallback:    fallback,
		}
		if c.counter != nil {
			chunk.TokenCount = c.counter.Count(body)
		}
		chunks = append(chunks, chunk)
		ordinal++

		if j == n {
			break
		}
		i = j - c.overlap
	}

	return chunks
}
