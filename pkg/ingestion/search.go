package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SearchResult is one hit from any provider.
type SearchResult struct {
	Title    string
	URL      string
	Snippet  string
	Provider string
}

// SearchProvider is one search backend.
type SearchProvider interface {
	Name() string
	Available() bool
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// ErrAllProvidersFailed is returned when no provider produced results.
var ErrAllProvidersFailed = errors.New("all search providers failed")

// FallbackSearcher tries providers in order. Each provider gets a short
// retry with exponential backoff before the next one is consulted, so a
// transient failure does not immediately burn a fallback.
type FallbackSearcher struct {
	providers []SearchProvider
}

// NewFallbackSearcher creates a searcher over the given providers, tried in
// the order supplied.
func NewFallbackSearcher(providers ...SearchProvider) *FallbackSearcher {
	return &FallbackSearcher{providers: providers}
}

// Search returns results from the first provider that succeeds.
func (s *FallbackSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}

	var lastErr error
	for _, p := range s.providers {
		if !p.Available() {
			slog.Debug("Search provider unavailable, skipping", "provider", p.Name())
			continue
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(500*time.Millisecond),
				backoff.WithMaxInterval(5*time.Second),
			), 2), ctx)

		results, err := backoff.RetryWithData(func() ([]SearchResult, error) {
			return p.Search(ctx, query, maxResults)
		}, policy)
		if err != nil {
			slog.Warn("Search provider failed, falling back",
				"provider", p.Name(),
				"query", query,
				"error", err)
			lastErr = err
			continue
		}

		slog.Info("Search completed",
			"provider", p.Name(),
			"query", query,
			"results", len(results))
		return results, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}
