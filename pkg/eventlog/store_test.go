package eventlog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/test/util"
)

func TestAppendAndListByStory(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	storyID := uuid.New()
	agentID := uuid.New()

	seq1, err := s.Append(ctx, storyID, models.EventStoryDetected, models.Payload{"title": "Bridge closure", "score": 0.8}, &agentID)
	require.NoError(t, err)
	seq2, err := s.Append(ctx, storyID, models.EventStoryCreated, models.Payload{"score": 0.8}, nil)
	require.NoError(t, err)
	assert.Greater(t, seq2, seq1)

	// Another story's events must not leak in.
	_, err = s.Append(ctx, uuid.New(), models.EventStoryDetected, nil, nil)
	require.NoError(t, err)

	events, err := s.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventStoryDetected, events[0].EventType)
	assert.Equal(t, models.EventStoryCreated, events[1].EventType)
	require.NotNil(t, events[0].AgentID)
	assert.Equal(t, agentID, *events[0].AgentID)
	assert.Nil(t, events[1].AgentID)
	assert.Equal(t, "Bridge closure", events[0].Payload.GetString("title"))
	assert.InDelta(t, 0.8, events[0].Payload.GetFloat("score"), 1e-9)
}

func TestAppendRejectsEmptyType(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)

	_, err := s.Append(context.Background(), uuid.New(), "", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyEventType)
}

func TestListRecent(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	for range 5 {
		_, err := s.Append(ctx, uuid.New(), models.EventStoryDetected, nil, nil)
		require.NoError(t, err)
	}
	lastStory := uuid.New()
	_, err := s.Append(ctx, lastStory, models.EventStoryCreated, nil, nil)
	require.NoError(t, err)

	events, err := s.ListRecent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, lastStory, events[0].StoryID, "newest event first")
}

func TestLatestByType(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	storyID := uuid.New()

	e, err := s.LatestByType(ctx, storyID, models.EventStoryDetected)
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = s.Append(ctx, storyID, models.EventStoryDetected, models.Payload{"title": "first"}, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, storyID, models.EventStoryDetected, models.Payload{"title": "second"}, nil)
	require.NoError(t, err)

	e, err = s.LatestByType(ctx, storyID, models.EventStoryDetected)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "second", e.Payload.GetString("title"))
}

func TestHasAny(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	storyID := uuid.New()
	_, err := s.Append(ctx, storyID, models.EventStoryCreated, nil, nil)
	require.NoError(t, err)

	has, err := s.HasAny(ctx, storyID, models.EventStoryCreated, models.EventStoryRejected)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasAny(ctx, storyID, models.EventStoryKilled)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStoriesWithout(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	// Detected only: should be returned.
	pending := uuid.New()
	_, err := s.Append(ctx, pending, models.EventStoryDetected, nil, nil)
	require.NoError(t, err)

	// Detected and admitted: excluded.
	admitted := uuid.New()
	_, err = s.Append(ctx, admitted, models.EventStoryDetected, nil, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, admitted, models.EventStoryCreated, nil, nil)
	require.NoError(t, err)

	// Detected and rejected: excluded.
	rejected := uuid.New()
	_, err = s.Append(ctx, rejected, models.EventStoryDetected, nil, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, rejected, models.EventStoryRejected, nil, nil)
	require.NoError(t, err)

	ids, err := s.StoriesWithout(ctx, models.EventStoryDetected,
		models.EventStoryCreated, models.EventStoryRejected, models.EventStoryKilled)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pending}, ids)
}

func TestCountByType(t *testing.T) {
	db := util.SetupTestDatabase(t)
	s := New(db)
	ctx := context.Background()

	storyID := uuid.New()
	_, err := s.Append(ctx, storyID, models.EventStoryDetected, nil, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, storyID, models.EventStoryDetected, nil, nil)
	require.NoError(t, err)
	_, err = s.Append(ctx, storyID, models.EventStoryCreated, nil, nil)
	require.NoError(t, err)

	counts, err := s.CountByType(ctx, storyID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.EventStoryDetected])
	assert.Equal(t, 1, counts[models.EventStoryCreated])
}
