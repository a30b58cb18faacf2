// Package models defines the shared domain types for the newsroom pipeline:
// stories, events, tasks, agents, memory items, articles, and the human
// oversight records. All persistence lives in the store packages; these types
// carry no behavior beyond small helpers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage is a pipeline phase a task belongs to.
type Stage string

// Pipeline stages.
const (
	StageDetect   Stage = "detect"
	StageResearch Stage = "research"
	StageDraft    Stage = "draft"
	StageEdit     Stage = "edit"
	StageReview   Stage = "review"
	StagePublish  Stage = "publish"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Payload is a schemaless JSON document used for event payloads and task
// input/output. Per-event-type shapes are documented on the event type
// constants; consumers parse defensively via the Get helpers.
type Payload map[string]any

// Task is a unit of queued work at a specific stage for a specific story.
// The assigned agent plus started_at act as the claim lease; there is no
// separate lease row.
type Task struct {
	ID            uuid.UUID
	StoryID       uuid.UUID
	Stage         Stage
	Status        TaskStatus
	Priority      int
	AssignedAgent *uuid.UUID
	Input         Payload
	Output        Payload
	RecoveryCount int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Deadline      *time.Time
}
