package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/oversight"
	"github.com/newstown/newstown/pkg/publishing"
	"github.com/newstown/newstown/pkg/taskqueue"
	"github.com/newstown/newstown/test/util"
)

type apiFixture struct {
	router    *gin.Engine
	db        *database.Client
	events    *eventlog.Store
	queue     *taskqueue.Queue
	articles  *articles.Store
	oversight *oversight.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := util.SetupTestDatabase(t)
	events := eventlog.New(db)
	queue := taskqueue.New(db)
	arts := articles.New(db)
	over := oversight.New(db)
	rss := publishing.NewRSSChannel(arts, "News Town", "https://newstown.test", "Latest stories")

	srv := NewServer(db, events, queue, arts, over, agent.NewRegistry(db), rss)
	return &apiFixture{
		router:    srv.Router(),
		db:        db,
		events:    events,
		queue:     queue,
		articles:  arts,
		oversight: over,
	}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestStoryTimeline(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	storyID := uuid.New()
	_, err := f.events.Append(ctx, storyID, models.EventStoryDetected, models.Payload{"score": 0.9}, nil)
	require.NoError(t, err)
	_, err = f.events.Append(ctx, storyID, models.EventStoryCreated, models.Payload{"score": 0.9}, nil)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/stories/"+storyID.String()+"/timeline", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	events := body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, models.EventStoryDetected, first["event_type"])
	assert.Equal(t, storyID.String(), first["story_id"])

	counts := body["event_counts"].(map[string]any)
	assert.EqualValues(t, 1, counts[models.EventStoryDetected])
	assert.EqualValues(t, 1, counts[models.EventStoryCreated])
}

func TestStoryTimelineInvalidID(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/stories/not-a-uuid/timeline", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoryTasks(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	storyID := uuid.New()
	_, err := f.queue.Create(ctx, storyID, models.StageResearch, 8, models.Payload{"title": "t"}, nil)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/stories/"+storyID.String()+"/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	task := tasks[0].(map[string]any)
	assert.Equal(t, string(models.StageResearch), task["stage"])
	assert.Equal(t, string(models.TaskPending), task["status"])
	assert.EqualValues(t, 8, task["priority"])
}

func TestRecentEventsLimitValidation(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/events/recent?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/events/recent?limit=headlines", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/events/recent?limit=5", "").Code)
}

func TestGetArticle(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	articleID, err := f.articles.Create(ctx, models.Article{
		StoryID:  uuid.New(),
		Headline: "Bridge reopens",
		Body:     "The bridge reopened to traffic this morning.",
	})
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/articles/"+articleID.String(), "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, "Bridge reopens", body["headline"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/articles/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/articles/nope", "").Code)
}

func TestCreatePrompt(t *testing.T) {
	f := newAPIFixture(t)
	storyID := uuid.New()

	w := f.do(http.MethodPost, "/api/stories/"+storyID.String()+"/prompts",
		`{"prompt_text": "Dig into the funding angle", "created_by": "desk"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeJSON(t, w)
	assert.NotEmpty(t, body["prompt_id"])
	assert.Equal(t, string(models.PromptPending), body["status"])

	pending, err := f.oversight.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Dig into the funding angle", pending[0].PromptText)
}

func TestCreatePromptRequiresText(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/stories/"+uuid.NewString()+"/prompts", `{"created_by": "desk"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddSource(t *testing.T) {
	f := newAPIFixture(t)
	storyID := uuid.New()

	w := f.do(http.MethodPost, "/api/stories/"+storyID.String()+"/sources",
		`{"source_type": "url", "url": "https://city.gov/minutes"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, decodeJSON(t, w)["source_id"])

	w = f.do(http.MethodPost, "/api/stories/"+storyID.String()+"/sources",
		`{"source_type": "document"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueStats(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	_, err := f.queue.Create(ctx, uuid.New(), models.StageDraft, 5, nil, nil)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/api/queue/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stats")
}

func TestFeedEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/feed.xml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, w.Body.String(), "<rss")
}
