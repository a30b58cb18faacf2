package models

import (
	"time"

	"github.com/google/uuid"
)

// Article is the final, immutable output of an approved pipeline.
type Article struct {
	ID          uuid.UUID
	StoryID     uuid.UUID
	Headline    string
	Byline      *string
	Summary     *string
	Body        string
	Sources     []Payload
	Entities    Payload
	Tags        []string
	Metadata    Payload
	PublishedAt time.Time
	UpdatedAt   time.Time
}

// ArticleReview is an editor's persisted verdict on a draft or article.
type ArticleReview struct {
	ID                int64
	StoryID           uuid.UUID
	ArticleID         *uuid.UUID
	EditorAgentID     uuid.UUID
	Score             float64
	VerificationScore float64
	StyleScore        float64
	Decision          string
	Feedback          string
	Meta              Payload
	CreatedAt         time.Time
}

// Publication records one delivery attempt of an article to a channel.
type Publication struct {
	ID          int64
	ArticleID   uuid.UUID
	Channel     string
	Success     bool
	ExternalRef *string
	Error       *string
	PublishedAt time.Time
}
