package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

const (
	// DefaultTopK はデフォルトの返却記事数
	DefaultTopK = 5
	// DefaultFanOutFactor はチャンクヒットのオーバーフェッチ係数
	DefaultFanOutFactor = 8
	// DefaultMaxSnippets は記事あたりのスニペット最大数
	DefaultMaxSnippets = 3

	// minFanOut はチャンク検索の最小取得数
	// topKが小さくても記事単位の集約に十分なヒットを確保する
	minFanOut = 20
)

// Service はクエリEmbedding生成とチャンク検索、記事単位の集約を行います
//
// チャンクはtopKの何倍かオーバーフェッチされる。1記事が複数チャンクで
// ヒットしても記事単位に畳み込まれ、上位記事が欠けるのを防ぐためです
type Service struct {
	embedder     ingestion.Embedder
	store        ingestion.VectorStore
	fanOutFactor int
	maxSnippets  int
	logger       *slog.Logger
}

type serviceOptions struct {
	fanOutFactor int
	maxSnippets  int
	logger       *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithFanOutFactor はオーバーフェッチ係数を上書きする
func WithFanOutFactor(factor int) ServiceOption {
	return func(o *serviceOptions) {
		o.fanOutFactor = factor
	}
}

// WithMaxSnippets は記事あたりのスニペット最大数を上書きする
func WithMaxSnippets(max int) ServiceOption {
	return func(o *serviceOptions) {
		o.maxSnippets = max
	}
}

// WithSearchLogger はロガーを設定する
func WithSearchLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(embedder ingestion.Embedder, store ingestion.VectorStore, opts ...ServiceOption) *Service {
	options := serviceOptions{
		fanOutFactor: DefaultFanOutFactor,
		maxSnippets:  DefaultMaxSnippets,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.fanOutFactor <= 0 {
		options.fanOutFactor = DefaultFanOutFactor
	}
	if options.maxSnippets <= 0 {
		options.maxSnippets = DefaultMaxSnippets
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Service{
		embedder:     embedder,
		store:        store,
		fanOutFactor: options.fanOutFactor,
		maxSnippets:  options.maxSnippets,
		logger:       options.logger,
	}
}

// Search はクエリに類似する記事をスコア降順で最大topK件返す
func (s *Service) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vectors, err := s.embedder.BatchEmbed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 query", len(vectors))
	}

	fanOut := topK * s.fanOutFactor
	if fanOut < minFanOut {
		fanOut = minFanOut
	}

	hits, err := s.store.Search(ctx, vectors[0], fanOut)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	results := s.aggregate(hits)
	if len(results) > topK {
		results = results[:topK]
	}

	s.logger.Debug("検索を実行",
		"query", query,
		"chunkHits", len(hits),
		"articles", len(results),
	)

	return results, nil
}

// aggregate はチャンクヒットを記事単位に畳み込む
// 記事スコアは所属チャンクの最大スコア、スニペットはスコア上位の
// チャンクから選ばれ、記事内の出現順に表示される
func (s *Service) aggregate(hits []ingestion.Hit) []Result {
	type group struct {
		result Result
		hits   []ingestion.Hit
	}

	groups := map[uuid.UUID]*group{}
	order := make([]uuid.UUID, 0, len(hits))

	for _, hit := range hits {
		g, ok := groups[hit.Payload.ArticleID]
		if !ok {
			g = &group{
				result: Result{
					ArticleID:   hit.Payload.ArticleID,
					Title:       hit.Payload.Title,
					URL:         hit.Payload.URL,
					Source:      hit.Payload.Source,
					PublishedAt: hit.Payload.PublishedAt,
				},
			}
			groups[hit.Payload.ArticleID] = g
			order = append(order, hit.Payload.ArticleID)
		}
		if hit.Score > g.result.Score {
			g.result.Score = hit.Score
		}
		g.hits = append(g.hits, hit)
	}

	results := make([]Result, 0, len(groups))
	for _, articleID := range order {
		g := groups[articleID]
		g.result.Snippets = s.selectSnippets(g.hits)
		results = append(results, g.result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// 同点は新しい記事を優先
		return results[i].PublishedAt.After(results[j].PublishedAt)
	})

	return results
}

// snippetHeadLimit は本文先頭を代替スニペットに使うときの最大ルーン数
const snippetHeadLimit = 280

// selectSnippets はスコア上位のヒットからノイズを除いたスニペットを選び、
// 選ばれたものを記事内の出現順に並べて返す
func (s *Service) selectSnippets(hits []ingestion.Hit) []Snippet {
	ranked := make([]ingestion.Hit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	type candidate struct {
		hit  ingestion.Hit
		text string
	}
	selected := make([]candidate, 0, s.maxSnippets)
	seen := map[string]struct{}{}
	for _, hit := range ranked {
		if len(selected) >= s.maxSnippets {
			break
		}
		text := snippetText(hit.Payload)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		selected = append(selected, candidate{hit: hit, text: text})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].hit.Payload.Ordinal < selected[j].hit.Payload.Ordinal
	})

	snippets := make([]Snippet, 0, len(selected))
	for _, c := range selected {
		snippets = append(snippets, Snippet{
			ChunkID: c.hit.ChunkID,
			Text:    c.text,
			Score:   c.hit.Score,
		})
	}
	return snippets
}

// snippetText はペイロードから表示用のスニペット本文を決める
// 事前計算済みスニペットがノイズの場合は本文先頭から代替の文を探し、
// それも見つからなければ本文先頭を切り詰めて使う
func snippetText(p ingestion.PointPayload) string {
	text := strings.TrimSpace(p.Snippet)
	if text == "" || ingestion.SnippetNoise.MatchString(text) {
		head := strings.TrimSpace(p.TextHead)
		if head == "" {
			return ""
		}
		text = ingestion.FirstCleanSentence(head)
		if text == "" {
			if runes := []rune(head); len(runes) > snippetHeadLimit {
				head = string(runes[:snippetHeadLimit]) + "…"
			}
			text = head
		}
	}
	text = strings.TrimSpace(text)
	if text == "" || ingestion.SnippetNoise.MatchString(text) {
		return ""
	}
	return text
}
