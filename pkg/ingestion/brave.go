package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// BraveProvider queries the Brave Search API. A 429 marks the provider
// unavailable for a minute so the fallback chain moves on instead of
// hammering a rate limit.
type BraveProvider struct {
	apiKey string
	http   *http.Client

	mu               sync.Mutex
	rateLimitedUntil time.Time
}

// NewBraveProvider creates a Brave provider. With an empty key the provider
// reports itself unavailable and is skipped.
func NewBraveProvider(apiKey string) *BraveProvider {
	return &BraveProvider{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements SearchProvider.
func (p *BraveProvider) Name() string { return "brave" }

// Available implements SearchProvider.
func (p *BraveProvider) Available() bool {
	if p.apiKey == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().After(p.rateLimitedUntil)
}

// Search implements SearchProvider.
func (p *BraveProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.mu.Lock()
		p.rateLimitedUntil = time.Now().Add(time.Minute)
		p.mu.Unlock()
		return nil, backoffPermanent(fmt.Errorf("brave rate limited"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("brave response: %w", err)
	}

	results := make([]SearchResult, 0, len(body.Web.Results))
	for i, item := range body.Web.Results {
		if i >= maxResults {
			break
		}
		results = append(results, SearchResult{
			Title:    item.Title,
			URL:      item.URL,
			Snippet:  item.Description,
			Provider: p.Name(),
		})
	}
	return results, nil
}
