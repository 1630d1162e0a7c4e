package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/news-rag/internal/core/ingestion"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Diario Ejemplo</title>
    <item>
      <title>La economía creció en el segundo trimestre</title>
      <link>https://example.com/noticias/economia</link>
      <description>El PIB avanzó un 0,8% entre abril y junio según los datos oficiales.</description>
      <pubDate>Mon, 17 Aug 2026 10:30:00 +0000</pubDate>
    </item>
    <item>
      <title>Entrada sin enlace</title>
      <description>Esta entrada no tiene enlace y debe ser ignorada.</description>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Blog Ejemplo</title>
  <entry>
    <title>Nueva versión publicada</title>
    <link rel="alternate" href="https://example.org/posts/nueva-version"/>
    <summary>La versión incluye mejoras de rendimiento y corrección de errores.</summary>
    <published>2026-08-15T09:00:00Z</published>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	articles, err := Parse([]byte(rssSample), "example.com")
	require.NoError(t, err)
	require.Len(t, articles, 1)

	article := articles[0]
	assert.Equal(t, "Diario Ejemplo", article.Source)
	assert.Equal(t, "https://example.com/noticias/economia", article.URL)
	assert.Equal(t, "La economía creció en el segundo trimestre", article.Title)
	assert.Contains(t, article.RawText, "PIB")
	assert.Equal(t, time.Date(2026, 8, 17, 10, 30, 0, 0, time.UTC), article.PublishedAt)
	assert.Equal(t, ingestion.NewArticleID(article.URL), article.ID)
}

func TestParseAtom(t *testing.T) {
	articles, err := Parse([]byte(atomSample), "example.org")
	require.NoError(t, err)
	require.Len(t, articles, 1)

	article := articles[0]
	assert.Equal(t, "Blog Ejemplo", article.Source)
	assert.Equal(t, "https://example.org/posts/nueva-version", article.URL)
	assert.Contains(t, article.RawText, "mejoras de rendimiento")
	assert.Equal(t, time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC), article.PublishedAt)
}

func TestParseRejectsUnknownFormat(t *testing.T) {
	_, err := Parse([]byte(`<html><body>not a feed</body></html>`), "example.com")
	assert.Error(t, err)
}

func TestParseTimeLayouts(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"Mon, 17 Aug 2026 10:30:00 +0000", time.Date(2026, 8, 17, 10, 30, 0, 0, time.UTC)},
		{"2026-08-15T09:00:00Z", time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)},
		{"2026-08-15", time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"not a date", time.Time{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseTime(tt.value), "value %q", tt.value)
	}
}

func TestProviderFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssSample))
	}))
	defer server.Close()

	provider := NewProvider()
	articles, err := provider.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestProviderFetchReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewProvider()
	_, err := provider.Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestProviderFetchAllContinuesOnFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(rssSample))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	provider := NewProvider()
	articles, err := provider.FetchAll(context.Background(), []string{bad.URL, good.URL})
	require.NoError(t, err)
	assert.Len(t, articles, 1)
}

func TestProviderFetchAllFailsWhenAllFeedsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	provider := NewProvider()
	_, err := provider.FetchAll(context.Background(), []string{bad.URL, bad.URL})
	assert.Error(t, err)
}
