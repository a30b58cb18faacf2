package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
)

const ddgEndpoint = "https://html.duckduckgo.com/html/"

// DuckDuckGoProvider scrapes the DuckDuckGo HTML endpoint. Needs no API key,
// so it serves as the always-available last resort in the fallback chain.
type DuckDuckGoProvider struct {
	http *http.Client
}

// NewDuckDuckGoProvider creates a DuckDuckGo provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name implements SearchProvider.
func (p *DuckDuckGoProvider) Name() string { return "duckduckgo" }

// Available implements SearchProvider.
func (p *DuckDuckGoProvider) Available() bool { return true }

// Search implements SearchProvider.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ddgEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; newstown/1.0)")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo search: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo response: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a")
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if href == "" || title == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:    title,
			URL:      cleanDDGURL(href),
			Snippet:  snippet,
			Provider: p.Name(),
		})
		return len(results) < maxResults
	})
	return results, nil
}

// cleanDDGURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func cleanDDGURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}

// backoffPermanent marks an error as non-retryable for the provider's
// retry policy.
func backoffPermanent(err error) error {
	return backoff.Permanent(err)
}
