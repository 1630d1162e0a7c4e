package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

const (
	// DefaultTimeout はフィード取得のタイムアウト
	DefaultTimeout = 30 * time.Second

	// maxBodySize はフィード本文の読み込み上限
	maxBodySize = 10 << 20
)

// Provider はRSS 2.0 / AtomフィードからArticleを取得する
type Provider struct {
	client *http.Client
	logger *slog.Logger
}

type providerOptions struct {
	client *http.Client
	logger *slog.Logger
}

// ProviderOption は Provider のオプション設定
type ProviderOption func(*providerOptions)

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.client = client
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// NewProvider は新しい Provider を作成する
func NewProvider(opts ...ProviderOption) *Provider {
	options := providerOptions{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.client == nil {
		options.client = &http.Client{Timeout: DefaultTimeout}
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Provider{
		client: options.client,
		logger: options.logger,
	}
}

// Fetch はフィードURLから記事一覧を取得する
// 個々のエントリの欠損（URLなし等）はスキップし、フィード単位のエラーだけを返す
func (p *Provider) Fetch(ctx context.Context, feedURL string) ([]*ingestion.Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	req.Header.Set("User-Agent", "news-rag/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	articles, err := Parse(body, sourceName(feedURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}

	p.logger.Debug("フィードを取得",
		"url", feedURL,
		"articles", len(articles),
	)
	return articles, nil
}

// FetchAll は複数フィードを順に取得し、取得できた記事をまとめて返す
// 一部のフィードが失敗しても残りの取得は続行する
func (p *Provider) FetchAll(ctx context.Context, feedURLs []string) ([]*ingestion.Article, error) {
	var articles []*ingestion.Article
	var failed int

	for _, feedURL := range feedURLs {
		if err := ctx.Err(); err != nil {
			return articles, err
		}

		fetched, err := p.Fetch(ctx, feedURL)
		if err != nil {
			p.logger.Warn("フィードの取得に失敗、スキップ",
				"url", feedURL,
				"error", err,
			)
			failed++
			continue
		}
		articles = append(articles, fetched...)
	}

	if failed == len(feedURLs) && len(feedURLs) > 0 {
		return nil, fmt.Errorf("all %d feeds failed", len(feedURLs))
	}
	return articles, nil
}

// === フィード解析 ===

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"`
	PubDate     string `xml:"pubDate"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	Links   []atomLink `xml:"link"`
	Summary string     `xml:"summary"`
	Content string     `xml:"content"`
	Updated string     `xml:"updated"`
	Publish string     `xml:"published"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

// Parse はRSS 2.0またはAtomのXMLを記事一覧に変換する
func Parse(body []byte, source string) ([]*ingestion.Article, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return fromRSS(rss, source), nil
	}

	var atom atomFeed
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		return fromAtom(atom, source), nil
	}

	return nil, fmt.Errorf("document is neither RSS 2.0 nor Atom")
}

func fromRSS(feed rssFeed, source string) []*ingestion.Article {
	if feed.Channel.Title != "" {
		source = feed.Channel.Title
	}

	articles := make([]*ingestion.Article, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}

		text := item.Content
		if strings.TrimSpace(text) == "" {
			text = item.Description
		}

		articles = append(articles, &ingestion.Article{
			ID:          ingestion.NewArticleID(link),
			Source:      source,
			URL:         link,
			PublishedAt: parseTime(item.PubDate),
			Title:       strings.TrimSpace(item.Title),
			RawText:     text,
		})
	}
	return articles
}

func fromAtom(feed atomFeed, source string) []*ingestion.Article {
	if feed.Title != "" {
		source = feed.Title
	}

	articles := make([]*ingestion.Article, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		link := atomEntryLink(entry)
		if link == "" {
			continue
		}

		text := entry.Content
		if strings.TrimSpace(text) == "" {
			text = entry.Summary
		}

		published := entry.Publish
		if published == "" {
			published = entry.Updated
		}

		articles = append(articles, &ingestion.Article{
			ID:          ingestion.NewArticleID(link),
			Source:      source,
			URL:         link,
			PublishedAt: parseTime(published),
			Title:       strings.TrimSpace(entry.Title),
			RawText:     text,
		})
	}
	return articles
}

// atomEntryLink はrel="alternate"（または無指定）のリンクを選ぶ
func atomEntryLink(entry atomEntry) string {
	for _, link := range entry.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			return strings.TrimSpace(link.Href)
		}
	}
	if len(entry.Links) > 0 {
		return strings.TrimSpace(entry.Links[0].Href)
	}
	return ""
}

var timeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

// parseTime はフィードでよく使われる日時形式を順に試す
// どれにも一致しない場合はゼロ値を返す
func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// sourceName はフィードURLのホスト名をソース名の初期値にする
func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}
