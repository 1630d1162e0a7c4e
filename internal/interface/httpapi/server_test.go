package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/news-rag/internal/core/ingestion"
	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
	"github.com/jinford/news-rag/internal/core/search"
	"github.com/jinford/news-rag/internal/infra/local"
	"github.com/jinford/news-rag/internal/infra/memory"
)

// newTestServer はインメモリストアとローカルEmbedderで完結するサーバを組み立てる
func newTestServer(t *testing.T) *Server {
	t.Helper()

	embedder := local.NewEmbedder(64)
	store := memory.NewStore()

	chunker, err := chunk.NewSimple(400, 40)
	require.NoError(t, err)

	pipeline := ingestion.NewIndexPipeline(
		ingestion.NewNormalizer(ingestion.DefaultNormalizerConfig()),
		chunker,
		embedder,
		store,
	)
	searcher := search.NewService(embedder, store)

	return NewServer(pipeline, searcher)
}

func goodArticleBody() string {
	text := strings.Repeat("El ministerio de economía presentó hoy el plan de inversión en infraestructuras para la próxima década. ", 8)
	payload := map[string]any{
		"articles": []map[string]any{
			{
				"source":      "example",
				"url":         "https://example.com/noticias/plan-inversion",
				"publishedAt": "2026-08-20T10:00:00Z",
				"title":       "Plan de inversión en infraestructuras",
				"rawText":     text,
			},
		},
	}
	body, _ := json.Marshal(payload)
	return string(body)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIndexThenSearch(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/index", strings.NewReader(goodArticleBody()))
	req.Header.Set("Content-Type", "application/json")
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var indexResp struct {
		Report ingestion.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &indexResp))
	assert.Equal(t, 1, indexResp.Report.ArticlesIndexed)
	assert.Greater(t, indexResp.Report.ChunksIndexed, 0)

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=plan+de+inversi%C3%B3n&k=3", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var searchResp struct {
		Results []search.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &searchResp))
	require.NotEmpty(t, searchResp.Results)
	assert.Equal(t, "Plan de inversión en infraestructuras", searchResp.Results[0].Title)
	assert.NotEmpty(t, searchResp.Results[0].Snippets)
}

func TestIndexRejectsInvalidBody(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "not json"},
		{name: "empty articles", body: `{"articles": []}`},
		{name: "missing url", body: `{"articles": [{"rawText": "texto"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/index", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			server.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=consulta&k=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexFeedsWithoutConfiguration(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/index/feeds", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// === エラー種別のステータス対応 ===

type failingIndexer struct {
	err error
}

func (f *failingIndexer) Run(context.Context, []*ingestion.Article) (*ingestion.Report, error) {
	return &ingestion.Report{}, f.err
}

type failingSearcher struct {
	err error
}

func (f *failingSearcher) Search(context.Context, string, int) ([]search.Result, error) {
	return nil, f.err
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "quota exceeded is temporarily unavailable",
			err:        fmt.Errorf("embed: %w", ingestion.ErrQuotaExceeded),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "temporarily_unavailable",
		},
		{
			name:       "dimension mismatch is a configuration error",
			err:        fmt.Errorf("store: %w", ingestion.ErrDimensionMismatch),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "configuration_error",
		},
		{
			name:       "chunker config is a configuration error",
			err:        fmt.Errorf("chunker: %w", chunk.ErrConfig),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "configuration_error",
		},
		{
			name:       "anything else is an internal error",
			err:        fmt.Errorf("database connection lost"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&failingIndexer{err: tt.err}, &failingSearcher{err: tt.err})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/index", strings.NewReader(goodArticleBody()))
			req.Header.Set("Content-Type", "application/json")
			server.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)

			w = httptest.NewRecorder()
			server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/search?q=consulta", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
