package publishing

import (
	"context"
	"fmt"

	"github.com/gorilla/feeds"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/models"
)

// RSSChannel publishes articles into an RSS 2.0 feed. Publishing an article
// records it; the feed XML is regenerated on demand from the most recent
// articles rather than maintained incrementally.
type RSSChannel struct {
	store       *articles.Store
	FeedTitle   string
	FeedLink    string
	Description string
	MaxItems    int
}

// NewRSSChannel creates an RSS channel reading from the article store.
func NewRSSChannel(store *articles.Store, title, link, description string) *RSSChannel {
	return &RSSChannel{
		store:       store,
		FeedTitle:   title,
		FeedLink:    link,
		Description: description,
		MaxItems:    50,
	}
}

// Name implements Channel.
func (c *RSSChannel) Name() string { return "rss" }

// Publish implements Channel. The article is already durable in the article
// store, so inclusion in the feed needs no extra write; the article id is the
// feed item guid.
func (c *RSSChannel) Publish(_ context.Context, article *models.Article) (string, error) {
	if article.Headline == "" || article.Body == "" {
		return "", fmt.Errorf("article %s is missing headline or body", article.ID)
	}
	return article.ID.String(), nil
}

// GenerateFeed renders the current feed XML from the newest articles.
func (c *RSSChannel) GenerateFeed(ctx context.Context) (string, error) {
	recent, err := c.store.ListRecent(ctx, c.MaxItems)
	if err != nil {
		return "", fmt.Errorf("failed to load articles for feed: %w", err)
	}

	feed := &feeds.Feed{
		Title:       c.FeedTitle,
		Link:        &feeds.Link{Href: c.FeedLink},
		Description: c.Description,
	}
	for _, a := range recent {
		item := &feeds.Item{
			Title:   a.Headline,
			Link:    &feeds.Link{Href: fmt.Sprintf("%s/articles/%s", c.FeedLink, a.ID)},
			Id:      a.ID.String(),
			Content: a.Body,
			Created: a.PublishedAt,
		}
		if a.Summary != nil {
			item.Description = *a.Summary
		}
		if a.Byline != nil {
			item.Author = &feeds.Author{Name: *a.Byline}
		}
		feed.Items = append(feed.Items, item)
	}

	xml, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to render feed: %w", err)
	}
	return xml, nil
}
