package publishing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/test/util"
)

func TestRSSChannelPublish(t *testing.T) {
	c := NewRSSChannel(nil, "Feed", "https://feed.test", "desc")

	article := &models.Article{
		ID:       uuid.New(),
		Headline: "Headline",
		Body:     "Body",
	}
	ref, err := c.Publish(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, article.ID.String(), ref)

	_, err = c.Publish(context.Background(), &models.Article{ID: uuid.New(), Body: "no headline"})
	assert.Error(t, err)
}

func TestGenerateFeed(t *testing.T) {
	db := util.SetupTestDatabase(t)
	arts := articles.New(db)
	ctx := context.Background()

	summary := "Crews restored power overnight."
	byline := "Newsroom Staff"
	_, err := arts.Create(ctx, models.Article{
		StoryID:  uuid.New(),
		Headline: "Power restored after storm",
		Body:     "Full article body.",
		Summary:  &summary,
		Byline:   &byline,
	})
	require.NoError(t, err)

	c := NewRSSChannel(arts, "News Town", "https://newstown.test", "Latest stories")
	xml, err := c.GenerateFeed(ctx)
	require.NoError(t, err)

	assert.Contains(t, xml, "<rss")
	assert.Contains(t, xml, "<title>News Town</title>")
	assert.Contains(t, xml, "Power restored after storm")
	assert.Contains(t, xml, "Crews restored power overnight.")
}

func TestGenerateFeedEmpty(t *testing.T) {
	db := util.SetupTestDatabase(t)
	c := NewRSSChannel(articles.New(db), "News Town", "https://newstown.test", "Latest stories")

	xml, err := c.GenerateFeed(context.Background())
	require.NoError(t, err)
	assert.Contains(t, xml, "<rss")
}
