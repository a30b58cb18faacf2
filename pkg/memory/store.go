// Package memory implements the shared story memory used for duplicate
// detection: embeddings stored in pgvector, queried by cosine similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// EmbeddingDim is the vector dimension the schema is provisioned for.
// It is bound to the embedding model; changing models requires a migration.
const EmbeddingDim = 1536

// ErrDimensionMismatch is returned when an embedding's length does not match
// the provisioned column dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Store persists and searches story memory.
type Store struct {
	db *database.Client
}

// New creates a memory store.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// Add stores one memory item for a story. The embedding must have exactly
// EmbeddingDim components; anything else is rejected before touching the
// database so a misconfigured embedder fails loudly rather than corrupting
// the index.
func (s *Store) Add(ctx context.Context, storyID uuid.UUID, content string, embedding []float32, memoryType string, metadata models.Payload) (int64, error) {
	if len(embedding) != EmbeddingDim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), EmbeddingDim)
	}
	if memoryType == "" {
		memoryType = "summary"
	}
	if metadata == nil {
		metadata = models.Payload{}
	}

	var id int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO story_memory (story_id, content, embedding, memory_type, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		storyID, content, pgvector.NewVector(embedding), memoryType, metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add memory: %w", database.Classify(err))
	}

	slog.Debug("Memory stored", "memory_id", id, "story_id", storyID, "memory_type", memoryType)
	return id, nil
}

// FindSimilar returns up to limit stored items whose cosine similarity to
// embedding is at least minSimilarity, most similar first. The <=> operator
// yields cosine distance, so the threshold is applied as
// distance <= 1 - minSimilarity and similarity reported as 1 - distance.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, minSimilarity float64, limit int) ([]models.SimilarStory, error) {
	if len(embedding) != EmbeddingDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(embedding), EmbeddingDim)
	}
	if limit <= 0 {
		limit = 5
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Pool().Query(ctx,
		`SELECT story_id, content, 1 - (embedding <=> $1) AS similarity
		 FROM story_memory
		 WHERE (embedding <=> $1) <= $2
		 ORDER BY embedding <=> $1 ASC
		 LIMIT $3`,
		vec, 1-minSimilarity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", database.Classify(err))
	}
	defer rows.Close()

	var matches []models.SimilarStory
	for rows.Next() {
		var m models.SimilarStory
		if err := rows.Scan(&m.StoryID, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan memory match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory matches: %w", database.Classify(err))
	}
	return matches, nil
}

// ListByStory returns a story's memory items, oldest first.
func (s *Store) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.MemoryItem, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, content, embedding, memory_type, metadata, created_at
		 FROM story_memory
		 WHERE story_id = $1
		 ORDER BY created_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", database.Classify(err))
	}
	defer rows.Close()

	var items []models.MemoryItem
	for rows.Next() {
		var item models.MemoryItem
		var vec pgvector.Vector
		if err := rows.Scan(&item.ID, &item.StoryID, &item.Content, &vec, &item.MemoryType, &item.Metadata, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory item: %w", err)
		}
		item.Embedding = vec.Slice()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory items: %w", database.Classify(err))
	}
	return items, nil
}
