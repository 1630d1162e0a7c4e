package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinford/news-rag/internal/core/ingestion"
	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
	"github.com/jinford/news-rag/internal/core/search"
)

// Indexer は記事バッチのインデックス化を実行する
type Indexer interface {
	Run(ctx context.Context, articles []*ingestion.Article) (*ingestion.Report, error)
}

// Searcher はクエリ検索を実行する
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]search.Result, error)
}

// FeedFetcher は設定済みフィードから記事を取得する
type FeedFetcher interface {
	FetchAll(ctx context.Context, feedURLs []string) ([]*ingestion.Article, error)
}

// Server はインデックス化と検索を公開するHTTPサーバ
type Server struct {
	engine   *gin.Engine
	indexer  Indexer
	searcher Searcher
	fetcher  FeedFetcher
	feedURLs []string
	logger   *slog.Logger
}

type serverOptions struct {
	fetcher  FeedFetcher
	feedURLs []string
	logger   *slog.Logger
}

// ServerOption は Server のオプション設定
type ServerOption func(*serverOptions)

// WithFeeds はフィード取り込みエンドポイントを有効にする
func WithFeeds(fetcher FeedFetcher, feedURLs []string) ServerOption {
	return func(o *serverOptions) {
		o.fetcher = fetcher
		o.feedURLs = feedURLs
	}
}

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// NewServer は新しい Server を作成する
func NewServer(indexer Indexer, searcher Searcher, opts ...ServerOption) *Server {
	options := serverOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		indexer:  indexer,
		searcher: searcher,
		fetcher:  options.fetcher,
		feedURLs: options.feedURLs,
		logger:   options.logger,
	}
	s.registerRoutes()
	return s
}

// Handler はHTTPハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run はaddrでHTTPサーバを起動する
func (s *Server) Run(addr string) error {
	s.logger.Info("HTTPサーバを起動", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.POST("/index", s.handleIndex)
	api.POST("/index/feeds", s.handleIndexFeeds)
	api.GET("/search", s.handleSearch)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// indexRequest はPOST /api/indexのリクエストボディ
type indexRequest struct {
	Articles []articlePayload `json:"articles" binding:"required"`
}

type articlePayload struct {
	Source      string    `json:"source"`
	URL         string    `json:"url" binding:"required"`
	PublishedAt time.Time `json:"publishedAt"`
	Title       string    `json:"title"`
	RawText     string    `json:"rawText" binding:"required"`
}

func (s *Server) handleIndex(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if len(req.Articles) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "articles must not be empty",
		})
		return
	}

	articles := make([]*ingestion.Article, 0, len(req.Articles))
	for _, payload := range req.Articles {
		articles = append(articles, &ingestion.Article{
			ID:          ingestion.NewArticleID(payload.URL),
			Source:      payload.Source,
			URL:         payload.URL,
			PublishedAt: payload.PublishedAt,
			Title:       payload.Title,
			RawText:     payload.RawText,
		})
	}

	s.runIndex(c, articles)
}

func (s *Server) handleIndexFeeds(c *gin.Context) {
	if s.fetcher == nil || len(s.feedURLs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_configured",
			"message": "no feeds configured",
		})
		return
	}

	articles, err := s.fetcher.FetchAll(c.Request.Context(), s.feedURLs)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.runIndex(c, articles)
}

// runIndex はパイプラインを実行し、部分的に成功した場合もレポートを返す
func (s *Server) runIndex(c *gin.Context, articles []*ingestion.Article) {
	report, err := s.indexer.Run(c.Request.Context(), articles)
	if err != nil {
		status, code := statusFor(err)
		s.logger.Error("インデックス実行に失敗",
			"error", err,
			"indexed", report.ArticlesIndexed,
		)
		c.JSON(status, gin.H{
			"error":   code,
			"message": err.Error(),
			"report":  report,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "query parameter q is required",
		})
		return
	}

	topK := search.DefaultTopK
	if raw := c.Query("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "query parameter k must be a positive integer",
			})
			return
		}
		topK = parsed
	}

	results, err := s.searcher.Search(c.Request.Context(), query, topK)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if results == nil {
		results = []search.Result{}
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
	})
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	s.logger.Error("リクエスト処理に失敗", "error", err)
	c.JSON(status, gin.H{
		"error":   code,
		"message": err.Error(),
	})
}

// statusFor はドメインのエラー種別をHTTPステータスとエラーコードに対応付ける
//
//   - クォータ超過は一時的な失敗であり、クライアントは後で再試行できる
//   - 次元不一致と設定エラーは再試行しても直らない構成の問題
//   - それ以外は一般の内部エラー
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ingestion.ErrQuotaExceeded):
		return http.StatusServiceUnavailable, "temporarily_unavailable"
	case errors.Is(err, ingestion.ErrDimensionMismatch), errors.Is(err, chunk.ErrConfig):
		return http.StatusInternalServerError, "configuration_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
