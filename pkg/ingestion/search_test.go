package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name      string
	available bool
	results   []SearchResult
	err       error
	calls     int
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Available() bool { return p.available }

func (p *fakeProvider) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.results, nil
}

func TestFallbackSearcherFirstProviderWins(t *testing.T) {
	primary := &fakeProvider{
		name:      "primary",
		available: true,
		results:   []SearchResult{{Title: "hit", URL: "https://a.com", Provider: "primary"}},
	}
	secondary := &fakeProvider{name: "secondary", available: true}

	s := NewFallbackSearcher(primary, secondary)
	results, err := s.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "primary", results[0].Provider)
	assert.Zero(t, secondary.calls, "fallback untouched when the primary succeeds")
}

func TestFallbackSearcherFallsThrough(t *testing.T) {
	// A permanent error skips the retry budget and moves to the next provider.
	primary := &fakeProvider{
		name:      "primary",
		available: true,
		err:       backoffPermanent(errors.New("rate limited")),
	}
	secondary := &fakeProvider{
		name:      "secondary",
		available: true,
		results:   []SearchResult{{Title: "fallback hit", Provider: "secondary"}},
	}

	s := NewFallbackSearcher(primary, secondary)
	results, err := s.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "secondary", results[0].Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestFallbackSearcherSkipsUnavailable(t *testing.T) {
	down := &fakeProvider{name: "down", available: false}
	up := &fakeProvider{
		name:      "up",
		available: true,
		results:   []SearchResult{{Title: "hit"}},
	}

	s := NewFallbackSearcher(down, up)
	_, err := s.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Zero(t, down.calls)
}

func TestFallbackSearcherAllFail(t *testing.T) {
	p := &fakeProvider{
		name:      "only",
		available: true,
		err:       backoffPermanent(errors.New("down")),
	}

	s := NewFallbackSearcher(p)
	_, err := s.Search(context.Background(), "query", 5)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestFallbackSearcherNoProviders(t *testing.T) {
	s := NewFallbackSearcher()
	_, err := s.Search(context.Background(), "query", 5)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestCleanDDGURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			in:   "//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fstory&rut=abc",
			want: "https://example.com/story",
		},
		{
			in:   "https://example.com/direct",
			want: "https://example.com/direct",
		},
		{
			in:   "//example.com/protocol-relative",
			want: "https://example.com/protocol-relative",
		},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, cleanDDGURL(tc.in))
	}
}
