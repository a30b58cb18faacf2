package models

import (
	"time"

	"github.com/google/uuid"
)

// MemoryItem is a per-story memory row with a dense vector embedding.
// The vector dimension is fixed by the schema; see memory.Store.
type MemoryItem struct {
	ID         int64
	StoryID    uuid.UUID
	Content    string
	Embedding  []float32
	MemoryType string
	Metadata   Payload
	CreatedAt  time.Time
}

// SimilarStory is one dedup match returned by memory.Store.FindSimilar.
type SimilarStory struct {
	StoryID    uuid.UUID
	Similarity float64
	Content    string
}
