package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
	"github.com/jinford/news-rag/internal/platform/retry"
)

const (
	// DefaultSegmenterModel はセグメンテーションに使うデフォルトモデル
	DefaultSegmenterModel = "gpt-4o-mini"
	// DefaultSegmentTimeout はセグメンテーション呼び出しのタイムアウト
	DefaultSegmentTimeout = 60 * time.Second

	// segmenterMaxTokens は応答の最大トークン数
	// セグメント境界のJSONは小さいため控えめに抑える
	segmenterMaxTokens = 1024
)

const segmentPromptTemplate = `Divide el siguiente artículo de noticias en como máximo %d segmentos temáticamente coherentes.

Reglas:
- Los offsets "start" y "end" cuentan caracteres (no bytes) desde el inicio del texto.
- Los segmentos no deben solaparse y deben aparecer en orden.
- "end" de cada segmento debe ser mayor que su "start" y no superar %d.
- Responde únicamente con JSON con esta forma exacta:
  {"segments": [{"start": 0, "end": 120, "topic": "resumen breve"}]}

Artículo:
%s`

// Segmenter は OpenAI Chat Completions を使ってテキストの
// トピック境界を提案させる chunk.Segmenter 実装
//
// 応答の検証とフォールバックは chunk.AgenticChunker が担うため、
// このアダプタは生のレスポンス本文をそのまま返す
type Segmenter struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

type segmenterOptions struct {
	model   string
	timeout time.Duration
}

// SegmenterOption は Segmenter のオプション設定
type SegmenterOption func(*segmenterOptions)

// WithSegmenterModel はモデル名を上書きする
func WithSegmenterModel(model string) SegmenterOption {
	return func(o *segmenterOptions) {
		o.model = model
	}
}

// WithSegmentTimeout は1回の呼び出しのタイムアウトを上書きする
func WithSegmentTimeout(timeout time.Duration) SegmenterOption {
	return func(o *segmenterOptions) {
		o.timeout = timeout
	}
}

// NewSegmenter は新しい Segmenter を作成する
func NewSegmenter(apiKey string, opts ...SegmenterOption) (*Segmenter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	options := segmenterOptions{
		model:   DefaultSegmenterModel,
		timeout: DefaultSegmentTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.timeout <= 0 {
		options.timeout = DefaultSegmentTimeout
	}

	return &Segmenter{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
		),
		model:   options.model,
		timeout: options.timeout,
	}, nil
}

var _ chunk.Segmenter = (*Segmenter)(nil)

// Segment は記事テキストのセグメント分割を依頼し、生のレスポンス本文を返す
func (s *Segmenter) Segment(ctx context.Context, text string, maxSegments int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := buildSegmentPrompt(text, maxSegments)

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(segmenterMaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("segmentation request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	return completion.Choices[0].Message.Content, nil
}

// Classify はOpenAI APIのエラーをリトライ分類に対応付ける
func (s *Segmenter) Classify(err error) retry.Class {
	return classifyError(err)
}

// buildSegmentPrompt はセグメンテーション依頼のプロンプトを組み立てる
// オフセットはルーン単位で、テキスト長を上限として明示する
func buildSegmentPrompt(text string, maxSegments int) string {
	return fmt.Sprintf(segmentPromptTemplate, maxSegments, len([]rune(text)), text)
}
