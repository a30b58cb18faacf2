package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/test/util"
)

// axisVector returns a unit embedding along one axis. Vectors on different
// axes have cosine similarity 0, identical axes 1, which makes threshold
// behavior deterministic.
func axisVector(axis int) []float32 {
	v := make([]float32, EmbeddingDim)
	v[axis] = 1
	return v
}

func TestAddRejectsWrongDimension(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	_, err := s.Add(ctx, uuid.New(), "content", make([]float32, 10), "summary", nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = s.FindSimilar(ctx, make([]float32, EmbeddingDim+1), 0.8, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestAddAndListByStory(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	storyID := uuid.New()
	id, err := s.Add(ctx, storyID, "Mayor announces budget cuts", axisVector(0), "summary", models.Payload{"source": "city-feed"})
	require.NoError(t, err)
	assert.Positive(t, id)

	items, err := s.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Mayor announces budget cuts", items[0].Content)
	assert.Equal(t, "summary", items[0].MemoryType)
	assert.Equal(t, "city-feed", items[0].Metadata.GetString("source"))
	assert.Len(t, items[0].Embedding, EmbeddingDim)
}

func TestFindSimilarThreshold(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	same := uuid.New()
	orthogonal := uuid.New()

	_, err := s.Add(ctx, same, "original", axisVector(0), "summary", nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, orthogonal, "unrelated", axisVector(1), "summary", nil)
	require.NoError(t, err)

	// An identical vector matches at similarity 1; the orthogonal one sits
	// at similarity 0 and must fall below any meaningful threshold.
	matches, err := s.FindSimilar(ctx, axisVector(0), 0.85, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, same, matches[0].StoryID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	// Threshold 0 returns everything, most similar first.
	matches, err = s.FindSimilar(ctx, axisVector(0), 0, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, same, matches[0].StoryID)
	assert.Equal(t, orthogonal, matches[1].StoryID)
}

func TestFindSimilarLimit(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	for range 4 {
		_, err := s.Add(ctx, uuid.New(), "dup", axisVector(0), "summary", nil)
		require.NoError(t, err)
	}

	matches, err := s.FindSimilar(ctx, axisVector(0), 0.9, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
