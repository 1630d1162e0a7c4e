package search

import (
	"time"

	"github.com/google/uuid"
)

// Snippet は検索結果に表示するチャンク由来のプレビューです
type Snippet struct {
	ChunkID string  `json:"chunkID"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Result は記事単位に集約された検索結果です
// Scoreはその記事に属するチャンクヒットの最大スコアです
type Result struct {
	ArticleID   uuid.UUID `json:"articleID"`
	Score       float64   `json:"score"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	Snippets    []Snippet `json:"snippets"`
}
