// Package api exposes the read surface (story timelines, tasks, articles,
// queue stats, the RSS feed) and the human oversight endpoints over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/oversight"
	"github.com/newstown/newstown/pkg/publishing"
	"github.com/newstown/newstown/pkg/taskqueue"
)

// Server holds the handler dependencies.
type Server struct {
	db        *database.Client
	events    *eventlog.Store
	queue     *taskqueue.Queue
	articles  *articles.Store
	oversight *oversight.Store
	registry  *agent.Registry
	rss       *publishing.RSSChannel
}

// NewServer creates an API server. rss may be nil (feed endpoint disabled).
func NewServer(db *database.Client, events *eventlog.Store, queue *taskqueue.Queue, arts *articles.Store, over *oversight.Store, registry *agent.Registry, rss *publishing.RSSChannel) *Server {
	return &Server{
		db:        db,
		events:    events,
		queue:     queue,
		articles:  arts,
		oversight: over,
		registry:  registry,
		rss:       rss,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.Health)

	api := r.Group("/api")
	{
		api.GET("/stories/:id/timeline", s.StoryTimeline)
		api.GET("/stories/:id/tasks", s.StoryTasks)
		api.POST("/stories/:id/prompts", s.CreatePrompt)
		api.POST("/stories/:id/sources", s.AddSource)

		api.GET("/events/recent", s.RecentEvents)
		api.GET("/articles", s.ListArticles)
		api.GET("/articles/:id", s.GetArticle)
		api.GET("/agents", s.ListAgents)
		api.GET("/queue/stats", s.QueueStats)
	}

	if s.rss != nil {
		r.GET("/feed.xml", s.Feed)
	}

	return r
}
