package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChunker struct {
	calls int
	name  string
}

func (r *recordingChunker) Split(_ context.Context, articleID uuid.UUID, text string) ([]Chunk, error) {
	r.calls++
	return []Chunk{{
		ChunkID:   ChunkID(articleID, 0),
		ArticleID: articleID,
		Text:      text,
		Strategy:  Strategy(r.name),
	}}, nil
}

func TestThresholdRoutesByLength(t *testing.T) {
	primary := &recordingChunker{name: "primary"}
	secondary := &recordingChunker{name: "secondary"}

	chunker, err := NewThreshold(primary, secondary, 100)
	require.NoError(t, err)

	articleID := uuid.New()
	ctx := context.Background()

	_, err = chunker.Split(ctx, articleID, strings.Repeat("a", 100))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)

	_, err = chunker.Split(ctx, articleID, strings.Repeat("a", 99))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestThresholdCountsRunesNotBytes(t *testing.T) {
	primary := &recordingChunker{name: "primary"}
	secondary := &recordingChunker{name: "secondary"}

	chunker, err := NewThreshold(primary, secondary, 10)
	require.NoError(t, err)

	// 9ルーン（マルチバイト）はバイト数では閾値を超えるがルーン数では下回る
	_, err = chunker.Split(context.Background(), uuid.New(), strings.Repeat("ñ", 9))
	require.NoError(t, err)
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestThresholdRequiresBothChunkers(t *testing.T) {
	simple, err := NewSimple(100, 10)
	require.NoError(t, err)

	_, err = NewThreshold(nil, simple, 100)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewThreshold(simple, nil, 100)
	assert.ErrorIs(t, err, ErrConfig)
}
