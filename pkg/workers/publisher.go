package workers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/publishing"
)

// Publisher distributes approved articles to the configured channels and
// records every attempt.
type Publisher struct {
	articles *articles.Store
	pubs     *publishing.Store
	events   *eventlog.Store
	channels map[string]publishing.Channel
}

// NewPublisher creates a publisher handler over the given channels.
func NewPublisher(store *articles.Store, pubs *publishing.Store, events *eventlog.Store, channels ...publishing.Channel) *Publisher {
	byName := make(map[string]publishing.Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Publisher{articles: store, pubs: pubs, events: events, channels: byName}
}

// HandleTask implements agent.Handler.
func (p *Publisher) HandleTask(ctx context.Context, task *models.Task) (models.Payload, error) {
	if task.Stage != models.StagePublish {
		return nil, fmt.Errorf("publisher cannot handle stage %q", task.Stage)
	}

	articleIDRaw := task.Input.GetString("article_id")
	if articleIDRaw == "" {
		return nil, fmt.Errorf("article_id required for publishing")
	}
	articleID, err := uuid.Parse(articleIDRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid article_id %q: %w", articleIDRaw, err)
	}

	channels := task.Input.GetStringSlice("channels")
	if len(channels) == 0 {
		channels = []string{"rss"}
	}

	log := slog.With("article_id", articleID, "story_id", task.StoryID)
	log.Info("Publishing article", "channels", channels)

	article, err := p.articles.Get(ctx, articleID)
	if err != nil {
		return nil, err
	}

	results := models.Payload{}
	successCount := 0
	for _, name := range channels {
		ch, ok := p.channels[name]
		if !ok {
			results[name] = models.Payload{"success": false, "error": "unknown channel: " + name}
			p.record(ctx, articleID, name, false, nil, "unknown channel")
			continue
		}

		ref, pubErr := ch.Publish(ctx, article)
		if pubErr != nil {
			log.Error("Channel publishing failed", "channel", name, "error", pubErr)
			results[name] = models.Payload{"success": false, "error": pubErr.Error()}
			p.record(ctx, articleID, name, false, nil, pubErr.Error())
			continue
		}

		results[name] = models.Payload{"success": true, "external_ref": ref}
		p.record(ctx, articleID, name, true, &ref, "")
		successCount++
	}

	agentID := agentIDOf(task)
	if _, err := p.events.Append(ctx, task.StoryID, models.EventArticlePublished, models.Payload{
		"article_id": articleID.String(),
		"channels":   channels,
		"results":    results,
	}, agentID); err != nil {
		log.Error("Failed to append publish event", "error", err)
	}

	log.Info("Publishing complete", "success_count", successCount, "total_channels", len(channels))

	return models.Payload{
		"article_id":    articleID.String(),
		"channels":      channels,
		"results":       results,
		"success_count": successCount,
	}, nil
}

func (p *Publisher) record(ctx context.Context, articleID uuid.UUID, channel string, success bool, externalRef *string, errMsg string) {
	pub := models.Publication{
		ArticleID:   articleID,
		Channel:     channel,
		Success:     success,
		ExternalRef: externalRef,
	}
	if errMsg != "" {
		pub.Error = &errMsg
	}
	if _, err := p.pubs.Record(ctx, pub); err != nil {
		slog.Error("Failed to record publication",
			"article_id", articleID,
			"channel", channel,
			"error", err)
	}
}
