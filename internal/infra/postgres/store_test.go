package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/news-rag/internal/core/ingestion"
	"github.com/jinford/news-rag/pkg/db"
)

// startPostgres はpgvector入りのPostgreSQLコンテナを起動する
// Dockerが使えない環境ではテストをスキップする
func startPostgres(t *testing.T) *db.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=newsrag",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=newsrag_test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	_ = resource.Expire(300)

	connString := fmt.Sprintf(
		"host=localhost port=%s user=newsrag password=secret dbname=newsrag_test sslmode=disable",
		resource.GetPort("5432/tcp"),
	)

	var database *db.DB
	pool.MaxWait = 60 * time.Second
	err = pool.Retry(func() error {
		var connErr error
		database, connErr = db.NewFromConnString(context.Background(), connString)
		return connErr
	})
	require.NoError(t, err)
	t.Cleanup(database.Close)

	return database
}

func point(articleID uuid.UUID, ordinal int, vector []float32, publishedAt time.Time) ingestion.IndexedPoint {
	return ingestion.IndexedPoint{
		ChunkID: fmt.Sprintf("%s#%04d", articleID, ordinal),
		Vector:  vector,
		Payload: ingestion.PointPayload{
			ArticleID:   articleID,
			Source:      "example",
			Title:       "Noticia de prueba",
			URL:         "https://example.com/" + articleID.String(),
			PublishedAt: publishedAt,
			Ordinal:     ordinal,
			Snippet:     "El contenido de la noticia de prueba para la verificación del almacén.",
			TextHead:    "El contenido de la noticia de prueba.",
			Strategy:    "simple",
			ModelName:   "test-model",
		},
	}
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	database := startPostgres(t)
	ctx := context.Background()

	store := NewStore(database.Pool)
	require.NoError(t, store.EnsureCollection(ctx, 3))

	t.Run("ensure collection is idempotent", func(t *testing.T) {
		assert.NoError(t, store.EnsureCollection(ctx, 3))
	})

	t.Run("ensure collection rejects different dimension", func(t *testing.T) {
		other := NewStore(database.Pool)
		err := other.EnsureCollection(ctx, 8)
		assert.ErrorIs(t, err, ingestion.ErrDimensionMismatch)
	})

	t.Run("upsert rejects wrong vector dimension", func(t *testing.T) {
		articleID := uuid.New()
		err := store.Upsert(ctx, []ingestion.IndexedPoint{
			point(articleID, 0, []float32{1, 0}, time.Now().UTC()),
		})
		assert.ErrorIs(t, err, ingestion.ErrDimensionMismatch)
	})

	t.Run("upsert is idempotent per chunk id", func(t *testing.T) {
		articleID := uuid.New()
		at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

		p := point(articleID, 0, []float32{1, 0, 0}, at)
		require.NoError(t, store.Upsert(ctx, []ingestion.IndexedPoint{p}))

		// 同じchunk_idで再登録してもポイント数は増えない
		p.Payload.Title = "Noticia actualizada"
		require.NoError(t, store.Upsert(ctx, []ingestion.IndexedPoint{p}))

		hits, err := store.Search(ctx, []float32{1, 0, 0}, 10)
		require.NoError(t, err)

		var matched []ingestion.Hit
		for _, hit := range hits {
			if hit.Payload.ArticleID == articleID {
				matched = append(matched, hit)
			}
		}
		require.Len(t, matched, 1)
		assert.Equal(t, "Noticia actualizada", matched[0].Payload.Title)
	})

	t.Run("search orders by similarity", func(t *testing.T) {
		near := uuid.New()
		far := uuid.New()
		at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

		require.NoError(t, store.Upsert(ctx, []ingestion.IndexedPoint{
			point(near, 0, []float32{0, 1, 0}, at),
			point(far, 0, []float32{0, -1, 0}, at),
		}))

		hits, err := store.Search(ctx, []float32{0, 1, 0}, 2)
		require.NoError(t, err)
		require.NotEmpty(t, hits)

		assert.Equal(t, near, hits[0].Payload.ArticleID)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
		if len(hits) > 1 {
			assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
		}
	})

	t.Run("search breaks ties by published_at desc", func(t *testing.T) {
		older := uuid.New()
		newer := uuid.New()

		require.NoError(t, store.Upsert(ctx, []ingestion.IndexedPoint{
			point(older, 0, []float32{0, 0, 1}, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
			point(newer, 0, []float32{0, 0, 1}, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		}))

		hits, err := store.Search(ctx, []float32{0, 0, 1}, 2)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, newer, hits[0].Payload.ArticleID)
		assert.Equal(t, older, hits[1].Payload.ArticleID)
	})
}
