package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/version"
)

// Health reports process and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"database": dbHealth,
	})
}

// StoryTimeline returns a story's full event log in order.
func (s *Server) StoryTimeline(c *gin.Context) {
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}

	events, err := s.events.ListByStory(c.Request.Context(), storyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	counts, err := s.events.CountByType(c.Request.Context(), storyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"story_id":     storyID,
		"events":       eventViews(events),
		"event_counts": counts,
	})
}

// StoryTasks returns a story's tasks in creation order.
func (s *Server) StoryTasks(c *gin.Context) {
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}

	tasks, err := s.queue.ListByStory(c.Request.Context(), storyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"story_id": storyID,
		"tasks":    taskViews(tasks),
	})
}

// RecentEvents returns the newest events across all stories.
func (s *Server) RecentEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	events, err := s.events.ListRecent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": eventViews(events)})
}

// ListArticles returns the newest published articles.
func (s *Server) ListArticles(c *gin.Context) {
	arts, err := s.articles.ListRecent(c.Request.Context(), 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articleViews(arts)})
}

// GetArticle returns one article by id.
func (s *Server) GetArticle(c *gin.Context) {
	articleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
		return
	}

	article, err := s.articles.Get(c.Request.Context(), articleID)
	if err != nil {
		if errors.Is(err, articles.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, articleView(article))
}

// ListAgents returns the registered agents with their liveness state.
func (s *Server) ListAgents(c *gin.Context) {
	agents, err := s.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agentViews(agents)})
}

// QueueStats returns task counts by stage and status.
func (s *Server) QueueStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// CreatePromptRequest is the body for POST /api/stories/:id/prompts.
type CreatePromptRequest struct {
	PromptText string         `json:"prompt_text" binding:"required"`
	Context    models.Payload `json:"context"`
	CreatedBy  string         `json:"created_by"`
}

// CreatePrompt attaches a human prompt to a story. The chief picks it up on
// its next sweep.
func (s *Server) CreatePrompt(c *gin.Context) {
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}

	var req CreatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var createdBy *string
	if req.CreatedBy != "" {
		createdBy = &req.CreatedBy
	}

	id, err := s.oversight.CreatePrompt(c.Request.Context(), storyID, req.PromptText, req.Context, createdBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"prompt_id": id, "status": models.PromptPending})
}

// AddSourceRequest is the body for POST /api/stories/:id/sources.
type AddSourceRequest struct {
	SourceType string         `json:"source_type" binding:"required"`
	URL        string         `json:"url"`
	Content    string         `json:"content"`
	Metadata   models.Payload `json:"metadata"`
	AddedBy    string         `json:"added_by"`
}

// AddSource attaches a human-supplied source to a story.
func (s *Server) AddSource(c *gin.Context) {
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}

	var req AddSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL == "" && req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url or content is required"})
		return
	}

	src := models.HumanSource{
		StoryID:  storyID,
		Type:     req.SourceType,
		Metadata: req.Metadata,
	}
	if req.URL != "" {
		src.URL = &req.URL
	}
	if req.Content != "" {
		src.Content = &req.Content
	}
	if req.AddedBy != "" {
		src.AddedBy = &req.AddedBy
	}

	id, err := s.oversight.AddSource(c.Request.Context(), src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"source_id": id})
}

// Feed renders the RSS feed of published articles.
func (s *Server) Feed(c *gin.Context) {
	xml, err := s.rss.GenerateFeed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(xml))
}

func parseStoryID(c *gin.Context) (uuid.UUID, bool) {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid story id"})
		return uuid.Nil, false
	}
	return storyID, true
}
