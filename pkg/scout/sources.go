package scout

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/newstown/newstown/pkg/ingestion"
)

// maxEntriesPerScan bounds how much of a feed one scan considers.
const maxEntriesPerScan = 10

// Signal is one candidate item from any source, normalized before scoring.
type Signal struct {
	Source    string
	Title     string
	Summary   string
	URL       string
	Published *time.Time
}

// Source supplies candidate signals. MinScore lets second-class sources
// (social chatter) demand a higher newsworthiness bar than curated feeds.
type Source interface {
	Name() string
	MinScore() float64
	Fetch(ctx context.Context) ([]Signal, error)
}

// FeedSource reads one RSS or Atom feed.
type FeedSource struct {
	url      string
	minScore float64
	parser   *gofeed.Parser
}

// NewFeedSource creates a feed source with the standard score threshold.
func NewFeedSource(url string, minScore float64) *FeedSource {
	return &FeedSource{url: url, minScore: minScore, parser: gofeed.NewParser()}
}

// Name implements Source.
func (f *FeedSource) Name() string { return f.url }

// MinScore implements Source.
func (f *FeedSource) MinScore() float64 { return f.minScore }

// Fetch implements Source.
func (f *FeedSource) Fetch(ctx context.Context) ([]Signal, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", f.url, err)
	}

	items := feed.Items
	if len(items) > maxEntriesPerScan {
		items = items[:maxEntriesPerScan]
	}

	signals := make([]Signal, 0, len(items))
	for _, item := range items {
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		if len(summary) > 500 {
			summary = summary[:500]
		}
		signals = append(signals, Signal{
			Source:    f.url,
			Title:     item.Title,
			Summary:   summary,
			URL:       item.Link,
			Published: item.PublishedParsed,
		})
	}
	return signals, nil
}

// SocialSource surfaces trending chatter by running broad news queries
// through the search layer. Social signals are noisier than curated feeds,
// so the source carries a raised score threshold.
type SocialSource struct {
	searcher *ingestion.FallbackSearcher
	queries  []string
	minScore float64
}

// NewSocialSource creates a social source over the given trending queries.
func NewSocialSource(searcher *ingestion.FallbackSearcher, queries []string, minScore float64) *SocialSource {
	if len(queries) == 0 {
		queries = []string{"breaking news", "urgent report", "exclusive report"}
	}
	return &SocialSource{searcher: searcher, queries: queries, minScore: minScore}
}

// Name implements Source.
func (s *SocialSource) Name() string { return "social" }

// MinScore implements Source.
func (s *SocialSource) MinScore() float64 { return s.minScore }

// Fetch implements Source.
func (s *SocialSource) Fetch(ctx context.Context) ([]Signal, error) {
	seen := map[string]bool{}
	var signals []Signal
	for _, q := range s.queries {
		results, err := s.searcher.Search(ctx, q, 5)
		if err != nil {
			return signals, err
		}
		for _, r := range results {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			signals = append(signals, Signal{
				Source:  "social:" + q,
				Title:   r.Title,
				Summary: r.Snippet,
				URL:     r.URL,
			})
		}
		if len(signals) >= maxEntriesPerScan {
			break
		}
	}
	return signals, nil
}
