// Package ingestion provides the outward-facing inputs of the pipeline:
// text embeddings for the dedup memory and web search for research.
package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingDim must match the provisioned vector column.
const EmbeddingDim = 1536

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder embeds with text-embedding-3-small, whose native dimension
// matches the schema.
type OpenAIEmbedder struct {
	client openai.Client
}

// NewOpenAIEmbedder creates an embedder with the given API key.
func NewOpenAIEmbedder(apiKey string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text must not be empty")
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModelTextEmbedding3Small,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}

	raw := resp.Data[0].Embedding
	if len(raw) != EmbeddingDim {
		return nil, fmt.Errorf("unexpected embedding dimension %d", len(raw))
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
