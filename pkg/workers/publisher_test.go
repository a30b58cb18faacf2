package workers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/publishing"
	"github.com/newstown/newstown/test/util"
)

func publishTask(storyID, articleID uuid.UUID, channels ...string) *models.Task {
	agentID := uuid.New()
	chs := make([]any, len(channels))
	for i, c := range channels {
		chs[i] = c
	}
	return &models.Task{
		ID:            uuid.New(),
		StoryID:       storyID,
		Stage:         models.StagePublish,
		Status:        models.TaskActive,
		AssignedAgent: &agentID,
		Input: models.Payload{
			"article_id": articleID.String(),
			"channels":   chs,
		},
	}
}

func TestPublisherDeliversToChannels(t *testing.T) {
	db := util.SetupTestDatabase(t)
	arts := articles.New(db)
	pubs := publishing.NewStore(db)
	events := eventlog.New(db)
	ctx := context.Background()

	storyID := uuid.New()
	articleID, err := arts.Create(ctx, models.Article{
		StoryID:  storyID,
		Headline: "Ferry service restored",
		Body:     "Service resumed at dawn after repairs.",
	})
	require.NoError(t, err)

	rss := publishing.NewRSSChannel(arts, "Test Feed", "https://feed.test", "test")
	p := NewPublisher(arts, pubs, events, rss, publishing.LogChannel{})

	output, err := p.HandleTask(ctx, publishTask(storyID, articleID, "rss", "log"))
	require.NoError(t, err)
	assert.Equal(t, 2, output.GetInt("success_count"))
	assert.True(t, output.GetMap("results").GetMap("rss").GetBool("success"))
	assert.True(t, output.GetMap("results").GetMap("log").GetBool("success"))

	records, err := pubs.ListByArticle(ctx, articleID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.True(t, rec.Success)
		require.NotNil(t, rec.ExternalRef)
		assert.Equal(t, articleID.String(), *rec.ExternalRef)
	}

	has, err := events.HasAny(ctx, storyID, models.EventArticlePublished)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPublisherRecordsUnknownChannel(t *testing.T) {
	db := util.SetupTestDatabase(t)
	arts := articles.New(db)
	pubs := publishing.NewStore(db)
	events := eventlog.New(db)
	ctx := context.Background()

	storyID := uuid.New()
	articleID, err := arts.Create(ctx, models.Article{StoryID: storyID, Headline: "h", Body: "b"})
	require.NoError(t, err)

	p := NewPublisher(arts, pubs, events, publishing.LogChannel{})

	output, err := p.HandleTask(ctx, publishTask(storyID, articleID, "carrier-pigeon", "log"))
	require.NoError(t, err)
	assert.Equal(t, 1, output.GetInt("success_count"))
	assert.False(t, output.GetMap("results").GetMap("carrier-pigeon").GetBool("success"))

	records, err := pubs.ListByArticle(ctx, articleID)
	require.NoError(t, err)
	require.Len(t, records, 2, "failed attempts are recorded too")
	assert.False(t, records[0].Success)
	require.NotNil(t, records[0].Error)
	assert.Contains(t, *records[0].Error, "unknown channel")
}

func TestPublisherRequiresArticleID(t *testing.T) {
	db := util.SetupTestDatabase(t)
	p := NewPublisher(articles.New(db), publishing.NewStore(db), eventlog.New(db), publishing.LogChannel{})

	task := &models.Task{
		ID:      uuid.New(),
		StoryID: uuid.New(),
		Stage:   models.StagePublish,
		Input:   models.Payload{},
	}
	_, err := p.HandleTask(context.Background(), task)
	assert.Error(t, err)
}

func TestPublisherRejectsWrongStage(t *testing.T) {
	p := NewPublisher(nil, nil, nil)
	task := &models.Task{Stage: models.StageDraft, Input: models.Payload{}}
	_, err := p.HandleTask(context.Background(), task)
	assert.Error(t, err)
}
