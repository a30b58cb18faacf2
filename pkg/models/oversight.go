package models

import (
	"time"

	"github.com/google/uuid"
)

// PromptStatus is the lifecycle state of a human prompt.
type PromptStatus string

// Prompt statuses.
const (
	PromptPending    PromptStatus = "pending"
	PromptProcessing PromptStatus = "processing"
	PromptAnswered   PromptStatus = "answered"
)

// HumanPrompt is a question or instruction a human attached to a story.
// The chief turns pending prompts into high-priority research tasks.
type HumanPrompt struct {
	ID         int64
	StoryID    uuid.UUID
	PromptText string
	Context    Payload
	CreatedBy  *string
	Status     PromptStatus
	Response   Payload
	CreatedAt  time.Time
}

// Human source kinds.
const (
	SourceTypeURL      = "url"
	SourceTypeText     = "text"
	SourceTypeDocument = "document"
)

// HumanSource is a human-supplied source attached to a story, surfaced to
// research workers. Processed flips once the worker has ingested it.
type HumanSource struct {
	ID        int64
	StoryID   uuid.UUID
	Type      string
	URL       *string
	Content   *string
	Metadata  Payload
	AddedBy   *string
	Processed bool
	AddedAt   time.Time
}
