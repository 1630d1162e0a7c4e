package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/jinford/news-rag/internal/platform/retry"
)

// segmentSchemaJSON はセグメンテーション応答の構造検証用JSONスキーマ
// 型と必須フィールドのみをここで検証し、境界・単調性はコードで検証する
const segmentSchemaJSON = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["start", "end", "topic"],
		"additionalProperties": false,
		"properties": {
			"start": {"type": "integer", "minimum": 0},
			"end": {"type": "integer", "minimum": 0},
			"topic": {"type": "string"}
		}
	}
}`

// Segment はLLMが返す1セグメントを表します
// StartとEndは入力テキストのルーンオフセットです
type Segment struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Topic string `json:"topic"`
}

// Segmenter は生成系テキストサービスへのセグメンテーション依頼インターフェース
type Segmenter interface {
	// Segment はテキストのセグメント分割をサービスに依頼し、生のレスポンス本文を返します
	Segment(ctx context.Context, text string, maxSegments int) (string, error)

	// Classify はサービス固有のエラーをリトライ分類に対応付けます
	Classify(err error) retry.Class
}

// AgenticChunker はLLMにセグメンテーションを委譲するチャンク分割です
// 応答のスキーマ検証に失敗した場合はSimple戦略へ決定的にフォールバックし、
// そのチャンクに fallback=true を付けます。フォールバックは呼び出し元に
// エラーを伝播させません
type AgenticChunker struct {
	segmenter      Segmenter
	fallback       *SimpleChunker
	schema         *gojsonschema.Schema
	maxSegments    int
	maxInputTokens int
	policy         retry.Policy
	counter        TokenCounter
	logger         *slog.Logger
}

type agenticOptions struct {
	maxSegments    int
	maxInputTokens int
	policy         retry.Policy
	counter        TokenCounter
	logger         *slog.Logger
}

// AgenticOption は AgenticChunker のオプション設定
type AgenticOption func(*agenticOptions)

// WithMaxSegments はセグメント数の上限を設定する
func WithMaxSegments(max int) AgenticOption {
	return func(o *agenticOptions) {
		o.maxSegments = max
	}
}

// WithMaxInputTokens はセグメンテーション入力の上限トークン数を上書きする
func WithMaxInputTokens(max int) AgenticOption {
	return func(o *agenticOptions) {
		o.maxInputTokens = max
	}
}

// WithRetryPolicy はセグメンテーション呼び出しのリトライポリシーを上書きする
func WithRetryPolicy(policy retry.Policy) AgenticOption {
	return func(o *agenticOptions) {
		o.policy = policy
	}
}

// WithAgenticTokenCounter はチャンクのトークン数記録を有効にする
func WithAgenticTokenCounter(counter TokenCounter) AgenticOption {
	return func(o *agenticOptions) {
		o.counter = counter
	}
}

// WithAgenticLogger はロガーを設定する
func WithAgenticLogger(logger *slog.Logger) AgenticOption {
	return func(o *agenticOptions) {
		o.logger = logger
	}
}

const (
	// DefaultMaxSegments はデフォルトのセグメント数上限
	DefaultMaxSegments = 5

	// DefaultMaxInputTokens はセグメンテーション入力の上限トークン数
	// これを超える本文は先頭だけをLLMに渡し、残りはセグメント対象外とする
	DefaultMaxInputTokens = 2600

	// estimateRunesPerToken はカウンタ不在時のトークン数概算に使う
	// 1トークンあたりの平均ルーン数
	estimateRunesPerToken = 3
)

// NewAgentic は新しい AgenticChunker を作成する
// fallbackがnilの場合はデフォルトパラメータのSimpleChunkerを使う
func NewAgentic(segmenter Segmenter, fallback *SimpleChunker, opts ...AgenticOption) (*AgenticChunker, error) {
	if segmenter == nil {
		return nil, fmt.Errorf("%w: segmenter is required", ErrConfig)
	}

	if fallback == nil {
		var err error
		fallback, err = NewSimple(DefaultWindowSize, DefaultOverlap)
		if err != nil {
			return nil, err
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(segmentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile segment schema: %w", err)
	}

	options := agenticOptions{
		maxSegments:    DefaultMaxSegments,
		maxInputTokens: DefaultMaxInputTokens,
		policy:         retry.DefaultPolicy(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxSegments <= 0 {
		options.maxSegments = DefaultMaxSegments
	}
	if options.maxInputTokens <= 0 {
		options.maxInputTokens = DefaultMaxInputTokens
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &AgenticChunker{
		segmenter:      segmenter,
		fallback:       fallback,
		schema:         schema,
		maxSegments:    options.maxSegments,
		maxInputTokens: options.maxInputTokens,
		policy:         options.policy,
		counter:        options.counter,
		logger:         options.logger,
	}, nil
}

var _ Chunker = (*AgenticChunker)(nil)

// Split はLLMにセグメンテーションを依頼し、検証済みのチャンク列を返す
// サービスエラー・検証失敗のいずれでもSimpleへフォールバックする
//
// 入力は上限トークン数で切り詰めてからLLMに渡す。フォールバック時は
// 切り詰め前の全文を分割する
func (c *AgenticChunker) Split(ctx context.Context, articleID uuid.UUID, text string) ([]Chunk, error) {
	input := c.capInput(text)

	raw, err := retry.Do(ctx, c.policy, c.segmenter.Classify, func(ctx context.Context) (string, error) {
		return c.segmenter.Segment(ctx, input, c.maxSegments)
	})
	if err != nil {
		c.logger.Warn("セグメンテーション呼び出しに失敗、Simpleへフォールバック",
			"articleID", articleID,
			"error", err,
		)
		return c.fallback.split(articleID, text, true), nil
	}

	segments, err := c.parseAndValidate(raw, input)
	if err != nil {
		c.logger.Warn("セグメンテーション応答の検証に失敗、Simpleへフォールバック",
			"articleID", articleID,
			"error", err,
		)
		return c.fallback.split(articleID, text, true), nil
	}

	runes := []rune(input)
	chunks := make([]Chunk, 0, len(segments))
	for i, seg := range segments {
		body := string(runes[seg.Start:seg.End])
		chunk := Chunk{
			ChunkID:     ChunkID(articleID, i),
			ArticleID:   articleID,
			Ordinal:     i,
			Text:        body,
			StartOffset: seg.Start,
			EndOffset:   seg.End,
			Strategy:    StrategyAgentic,
		}
		if c.counter != nil {
			chunk.TokenCount = c.counter.Count(body)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// capInput はセグメンテーションへ渡す入力を上限トークン数で切り詰める
// カウンタがない場合はルーン数からトークン数を概算する
func (c *AgenticChunker) capInput(text string) string {
	runes := []rune(text)
	tokens := len(runes) / estimateRunesPerToken
	if c.counter != nil {
		tokens = c.counter.Count(text)
	}
	if tokens <= c.maxInputTokens {
		return text
	}

	keep := len(runes) * c.maxInputTokens / tokens
	if keep >= len(runes) {
		return text
	}
	return string(runes[:keep])
}

// parseAndValidate は生レスポンスをセグメント列として解釈・検証する
// 1箇所でも違反があれば応答全体を失敗として扱う（部分採用はしない）
func (c *AgenticChunker) parseAndValidate(raw, text string) ([]Segment, error) {
	payload, err := extractSegmentsJSON(raw)
	if err != nil {
		return nil, err
	}

	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("segments failed schema validation: %v", result.Errors())
	}

	var segments []Segment
	if err := json.Unmarshal(payload, &segments); err != nil {
		return nil, fmt.Errorf("failed to decode segments: %w", err)
	}

	if len(segments) > c.maxSegments {
		segments = segments[:c.maxSegments]
	}

	// 境界チェック: [0, len(text)] の範囲内、単調増加、重複なし
	length := len([]rune(text))
	prevEnd := 0
	for i, seg := range segments {
		if seg.Start >= seg.End {
			return nil, fmt.Errorf("segment %d: start %d >= end %d", i, seg.Start, seg.End)
		}
		if seg.End > length {
			return nil, fmt.Errorf("segment %d: end %d exceeds text length %d", i, seg.End, length)
		}
		if seg.Start < prevEnd {
			return nil, fmt.Errorf("segment %d: start %d overlaps previous end %d", i, seg.Start, prevEnd)
		}
		prevEnd = seg.End
	}

	return segments, nil
}

// extractSegmentsJSON はLLM応答からセグメント配列のJSONを取り出す
// コードフェンスや前置きが混ざっていても、最初のJSONオブジェクトを探して救済する
func extractSegmentsJSON(raw string) ([]byte, error) {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	cleaned := strings.Join(kept, "\n")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var envelope struct {
		Segments json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if len(envelope.Segments) == 0 {
		return nil, fmt.Errorf("response has no segments field")
	}

	return envelope.Segments, nil
}
