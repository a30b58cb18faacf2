package api

import (
	"time"

	"github.com/newstown/newstown/pkg/models"
)

// EventView is the JSON shape of one timeline event.
type EventView struct {
	Seq       int64          `json:"seq"`
	StoryID   string         `json:"story_id"`
	AgentID   *string        `json:"agent_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   models.Payload `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func eventViews(events []models.Event) []EventView {
	out := make([]EventView, len(events))
	for i, e := range events {
		view := EventView{
			Seq:       e.Seq,
			StoryID:   e.StoryID.String(),
			EventType: e.EventType,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		}
		if e.AgentID != nil {
			id := e.AgentID.String()
			view.AgentID = &id
		}
		out[i] = view
	}
	return out
}

// TaskView is the JSON shape of one task row.
type TaskView struct {
	ID            string            `json:"id"`
	StoryID       string            `json:"story_id"`
	Stage         models.Stage      `json:"stage"`
	Status        models.TaskStatus `json:"status"`
	Priority      int               `json:"priority"`
	AssignedAgent *string           `json:"assigned_agent,omitempty"`
	RecoveryCount int               `json:"recovery_count"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

func taskViews(tasks []models.Task) []TaskView {
	out := make([]TaskView, len(tasks))
	for i, t := range tasks {
		view := TaskView{
			ID:            t.ID.String(),
			StoryID:       t.StoryID.String(),
			Stage:         t.Stage,
			Status:        t.Status,
			Priority:      t.Priority,
			RecoveryCount: t.RecoveryCount,
			CreatedAt:     t.CreatedAt,
			StartedAt:     t.StartedAt,
			CompletedAt:   t.CompletedAt,
		}
		if t.AssignedAgent != nil {
			id := t.AssignedAgent.String()
			view.AssignedAgent = &id
		}
		out[i] = view
	}
	return out
}

// ArticleView is the JSON shape of one published article.
type ArticleView struct {
	ID          string           `json:"id"`
	StoryID     string           `json:"story_id"`
	Headline    string           `json:"headline"`
	Byline      *string          `json:"byline,omitempty"`
	Summary     *string          `json:"summary,omitempty"`
	Body        string           `json:"body"`
	Sources     []models.Payload `json:"sources,omitempty"`
	Entities    models.Payload   `json:"entities,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Metadata    models.Payload   `json:"metadata,omitempty"`
	PublishedAt time.Time        `json:"published_at"`
}

func articleView(a *models.Article) ArticleView {
	return ArticleView{
		ID:          a.ID.String(),
		StoryID:     a.StoryID.String(),
		Headline:    a.Headline,
		Byline:      a.Byline,
		Summary:     a.Summary,
		Body:        a.Body,
		Sources:     a.Sources,
		Entities:    a.Entities,
		Tags:        a.Tags,
		Metadata:    a.Metadata,
		PublishedAt: a.PublishedAt,
	}
}

func articleViews(arts []models.Article) []ArticleView {
	out := make([]ArticleView, len(arts))
	for i := range arts {
		out[i] = articleView(&arts[i])
	}
	return out
}

// AgentView is the JSON shape of one registered agent.
type AgentView struct {
	ID            string             `json:"id"`
	Role          models.Role        `json:"role"`
	Status        models.AgentStatus `json:"status"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
}

func agentViews(agents []models.Agent) []AgentView {
	out := make([]AgentView, len(agents))
	for i, a := range agents {
		out[i] = AgentView{
			ID:            a.ID.String(),
			Role:          a.Role,
			Status:        a.Status,
			LastHeartbeat: a.LastHeartbeat,
		}
	}
	return out
}
