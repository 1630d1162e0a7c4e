package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/news-rag/internal/core/ingestion/chunk"
)

var errStoreUnavailable = errors.New("store unavailable")

// memStore はテスト用のインメモリVectorStore
type memStore struct {
	mu        sync.Mutex
	dimension int
	points    map[string]IndexedPoint
	upserts   int
	failOn    int // n回目のUpsertで失敗させる（0で無効）
}

func newMemStore() *memStore {
	return &memStore{points: map[string]IndexedPoint{}}
}

func (s *memStore) EnsureCollection(_ context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && s.dimension != dimension {
		return fmt.Errorf("%w: collection has dimension %d, requested %d", ErrDimensionMismatch, s.dimension, dimension)
	}
	s.dimension = dimension
	return nil
}

func (s *memStore) Upsert(_ context.Context, points []IndexedPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failOn > 0 && s.upserts >= s.failOn {
		return errStoreUnavailable
	}
	for _, point := range points {
		s.points[point.ChunkID] = point
	}
	return nil
}

func (s *memStore) Search(_ context.Context, _ []float32, _ int) ([]Hit, error) {
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

var _ VectorStore = (*memStore)(nil)

func testArticle(i int, text string) *Article {
	url := fmt.Sprintf("https://example.com/noticias/%d", i)
	return &Article{
		ID:          NewArticleID(url),
		Source:      "example",
		URL:         url,
		PublishedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
		Title:       fmt.Sprintf("Noticia %d", i),
		RawText:     text,
	}
}

func newTestPipeline(t *testing.T, store VectorStore, embedder Embedder) *IndexPipeline {
	t.Helper()
	chunker, err := chunk.NewSimple(200, 20)
	require.NoError(t, err)
	return NewIndexPipeline(
		NewNormalizer(DefaultNormalizerConfig()),
		chunker,
		embedder,
		store,
	)
}

func TestPipelineCountsIndexedAndSkipped(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})

	articles := []*Article{
		testArticle(1, goodArticleText()),
		testArticle(2, "demasiado corto"),
		testArticle(3, goodArticleText()+" Además, el gobierno confirmó la fecha de entrada en vigor de la norma."),
	}

	report, err := pipeline.Run(context.Background(), articles)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ArticlesIndexed)
	assert.Equal(t, 1, report.ArticlesSkipped)
	assert.Greater(t, report.ChunksIndexed, 0)
	assert.Equal(t, report.ChunksIndexed, store.count())
}

func TestPipelineIsIdempotent(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})
	articles := []*Article{testArticle(1, goodArticleText())}

	first, err := pipeline.Run(context.Background(), articles)
	require.NoError(t, err)
	countAfterFirst := store.count()

	second, err := pipeline.Run(context.Background(), articles)
	require.NoError(t, err)

	// 同じchunk_idへのUpsertは上書きであり、ポイント数は増えない
	assert.Equal(t, first.ChunksIndexed, second.ChunksIndexed)
	assert.Equal(t, countAfterFirst, store.count())
}

func TestPipelineRespectsMaxChunks(t *testing.T) {
	store := newMemStore()
	chunker, err := chunk.NewSimple(100, 10)
	require.NoError(t, err)
	pipeline := NewIndexPipeline(
		NewNormalizer(DefaultNormalizerConfig()),
		chunker,
		&stubBackend{dim: 4, maxBatch: 64},
		store,
		WithPipelineConfig(&PipelineConfig{WorkerCount: 2, MaxChunks: 3}),
	)

	report, err := pipeline.Run(context.Background(), []*Article{testArticle(1, goodArticleText())})
	require.NoError(t, err)
	assert.Equal(t, 3, report.ChunksIndexed)
}

func TestPipelineAbortKeepsCommittedPoints(t *testing.T) {
	store := newMemStore()
	store.failOn = 2
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})

	articles := []*Article{
		testArticle(1, goodArticleText()),
		testArticle(2, goodArticleText()),
		testArticle(3, goodArticleText()),
	}

	report, err := pipeline.Run(context.Background(), articles)
	require.ErrorIs(t, err, errStoreUnavailable)

	// 失敗前にUpsert済みのポイントはロールバックされない
	assert.Equal(t, 1, report.ArticlesIndexed)
	assert.Greater(t, store.count(), 0)
}

func TestPipelineSurfacesQuotaError(t *testing.T) {
	backend := &stubBackend{dim: 4, maxBatch: 64, failUntil: 100, failErr: errStubQuota}
	provider, err := NewProvider(backend, WithEmbedRetryPolicy(fastPolicy()))
	require.NoError(t, err)

	store := newMemStore()
	pipeline := newTestPipeline(t, store, provider)

	_, err = pipeline.Run(context.Background(), []*Article{testArticle(1, goodArticleText())})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 0, store.count())
}

func TestPipelineDimensionMismatchIsFatal(t *testing.T) {
	store := newMemStore()
	store.dimension = 8 // 既存コレクションと異なる次元
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})

	_, err := pipeline.Run(context.Background(), []*Article{testArticle(1, goodArticleText())})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPipelineEmptyBatch(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})

	report, err := pipeline.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Report{}, report)
}

func TestPipelineCancellationStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newMemStore()
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})

	articles := make([]*Article, 10)
	for i := range articles {
		articles[i] = testArticle(i, goodArticleText())
	}

	report, err := pipeline.Run(ctx, articles)
	require.Error(t, err)
	assert.Less(t, report.ArticlesIndexed, len(articles))
}

func TestPipelinePayloadFields(t *testing.T) {
	store := newMemStore()
	pipeline := newTestPipeline(t, store, &stubBackend{dim: 4, maxBatch: 64})
	article := testArticle(1, goodArticleText())

	_, err := pipeline.Run(context.Background(), []*Article{article})
	require.NoError(t, err)

	for chunkID, point := range store.points {
		assert.True(t, strings.HasPrefix(chunkID, article.ID.String()+"#"))
		assert.Equal(t, article.ID, point.Payload.ArticleID)
		assert.Equal(t, article.URL, point.Payload.URL)
		assert.Equal(t, article.Title, point.Payload.Title)
		assert.Equal(t, "stub-embed", point.Payload.ModelName)
		assert.NotEmpty(t, point.Payload.Snippet)
		assert.Len(t, point.Vector, 4)
	}
}
