package publishing

import (
	"context"
	"log/slog"

	"github.com/newstown/newstown/pkg/models"
)

// Channel delivers an article to one destination. Publish returns an
// external reference (feed item guid, message id) when the destination
// assigns one.
type Channel interface {
	Name() string
	Publish(ctx context.Context, article *models.Article) (externalRef string, err error)
}

// LogChannel writes the article to the structured log. Used as the default
// channel in development and as a safety net when no real channel is
// configured.
type LogChannel struct{}

// Name implements Channel.
func (LogChannel) Name() string { return "log" }

// Publish implements Channel.
func (LogChannel) Publish(_ context.Context, article *models.Article) (string, error) {
	slog.Info("Article published",
		"article_id", article.ID,
		"story_id", article.StoryID,
		"headline", article.Headline)
	return article.ID.String(), nil
}
