package models

import (
	"time"

	"github.com/google/uuid"
)

// Well-known event types. The dotted namespace is open-ended: task lifecycle
// events are derived per stage via TaskCompletedEvent / TaskFailedEvent.
const (
	EventStoryDetected    = "story.detected"
	EventStoryCreated     = "story.created"
	EventStoryRejected    = "story.rejected"
	EventStoryKilled      = "story.killed"
	EventDraftCompleted   = "draft.completed"
	EventRevisionDone     = "revision.completed"
	EventArticlePublished = "article.published"
)

// TaskCompletedEvent returns the completion event type for a stage,
// e.g. "task.completed.research".
func TaskCompletedEvent(stage Stage) string {
	return "task.completed." + string(stage)
}

// TaskFailedEvent returns the failure event type for a stage.
func TaskFailedEvent(stage Stage) string {
	return "task.failed." + string(stage)
}

// Event is one immutable record in a story's append-only log. Seq is assigned
// by the database and is monotonic across all stories, not per story; within
// a story the authoritative order is (CreatedAt, Seq).
type Event struct {
	Seq       int64
	StoryID   uuid.UUID
	AgentID   *uuid.UUID
	EventType string
	Payload   Payload
	CreatedAt time.Time
}
