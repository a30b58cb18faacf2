package chief

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/oversight"
	"github.com/newstown/newstown/pkg/taskqueue"
	"github.com/newstown/newstown/test/util"
)

type testHarness struct {
	db        *database.Client
	chief     *Chief
	queue     *taskqueue.Queue
	events    *eventlog.Store
	articles  *articles.Store
	oversight *oversight.Store
}

func newTestHarness(t *testing.T, cfg Config) *testHarness {
	db := util.SetupTestDatabase(t)
	queue := taskqueue.New(db)
	events := eventlog.New(db)
	arts := articles.New(db)
	over := oversight.New(db)
	registry := agent.NewRegistry(db)

	return &testHarness{
		db:        db,
		chief:     New(queue, events, arts, over, registry, cfg),
		queue:     queue,
		events:    events,
		articles:  arts,
		oversight: over,
	}
}

// settle leaves a gap between writes so created_at comparisons in the
// advancement rules are unambiguous.
func settle() { time.Sleep(20 * time.Millisecond) }

func (h *testHarness) detect(t *testing.T, ctx context.Context, score float64, title string) uuid.UUID {
	storyID := uuid.New()
	_, err := h.events.Append(ctx, storyID, models.EventStoryDetected, models.Payload{
		"source":  "test-feed",
		"title":   title,
		"url":     "https://example.com/story",
		"summary": "Summary of " + title,
		"score":   score,
	}, nil)
	require.NoError(t, err)
	return storyID
}

// completeTask drains one claimable task for the role, marks it completed,
// and appends the completion event the worker runtime would write.
func (h *testHarness) completeTask(t *testing.T, ctx context.Context, role models.Role, output models.Payload) *models.Task {
	task, err := h.queue.Claim(ctx, uuid.New(), role)
	require.NoError(t, err)
	require.NoError(t, h.queue.Complete(ctx, task.ID, output))
	_, err = h.events.Append(ctx, task.StoryID, models.TaskCompletedEvent(task.Stage), models.Payload{
		"task_id": task.ID.String(),
		"output":  output,
	}, nil)
	require.NoError(t, err)
	return task
}

func TestSweepAdmitsHighScoreDetection(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.8, "Refinery fire contained")

	h.chief.Sweep(ctx)

	has, err := h.events.HasAny(ctx, storyID, models.EventStoryCreated)
	require.NoError(t, err)
	assert.True(t, has)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StageResearch, tasks[0].Stage)
	assert.Equal(t, 8, tasks[0].Priority, "priority follows the detection score")
	assert.Equal(t, "Refinery fire contained", tasks[0].Input.GetMap("detection_data").GetString("title"))

	// A second sweep must not re-admit.
	h.chief.Sweep(ctx)
	tasks, err = h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSweepRejectsLowScoreDetection(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.3, "Minor pothole reported")

	h.chief.Sweep(ctx)

	has, err := h.events.HasAny(ctx, storyID, models.EventStoryRejected)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = h.events.HasAny(ctx, storyID, models.EventStoryCreated)
	require.NoError(t, err)
	assert.False(t, has)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	// Rejected stays rejected, even if duplicate detections keep landing.
	_, err = h.events.Append(ctx, storyID, models.EventStoryDetected, models.Payload{"score": 0.9}, nil)
	require.NoError(t, err)
	h.chief.Sweep(ctx)

	has, err = h.events.HasAny(ctx, storyID, models.EventStoryCreated)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSweepAdvancesResearchToDraft(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.7, "Port strike enters second week")
	h.chief.Sweep(ctx)

	h.completeTask(t, ctx, models.RoleReporter, models.Payload{
		"sources":  []any{map[string]any{"url": "https://example.gov/brief"}},
		"verified": true,
	})
	settle()

	h.chief.Sweep(ctx)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	draft := tasks[1]
	assert.Equal(t, models.StageDraft, draft.Stage)
	assert.Equal(t, 5, draft.Priority)
	assert.True(t, draft.Input.GetMap("research_data").GetBool("verified"))
	assert.Equal(t, "Port strike enters second week", draft.Input.GetMap("detection_data").GetString("title"))

	// Idempotent: no duplicate draft task.
	h.chief.Sweep(ctx)
	tasks, err = h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestSweepRoutesDraftToReview(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.7, "Hospital expansion approved")
	h.chief.Sweep(ctx)
	h.completeTask(t, ctx, models.RoleReporter, models.Payload{"sources": []any{}})
	settle()
	h.chief.Sweep(ctx)

	// The draft worker writes both the stage event and the completion event.
	draftTask, err := h.queue.Claim(ctx, uuid.New(), models.RoleReporter)
	require.NoError(t, err)
	output := models.Payload{
		"article":    "Full draft body.",
		"headline":   "Hospital expansion approved",
		"word_count": 250,
	}
	require.NoError(t, h.queue.Complete(ctx, draftTask.ID, output))
	_, err = h.events.Append(ctx, storyID, models.EventDraftCompleted, models.Payload{"word_count": 250}, nil)
	require.NoError(t, err)
	_, err = h.events.Append(ctx, storyID, models.TaskCompletedEvent(models.StageDraft), models.Payload{
		"task_id": draftTask.ID.String(),
		"output":  output,
	}, nil)
	require.NoError(t, err)
	settle()

	h.chief.Sweep(ctx)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	review := tasks[2]
	assert.Equal(t, models.StageReview, review.Stage)
	assert.Equal(t, 6, review.Priority)
	assert.Equal(t, "Full draft body.", review.Input.GetMap("draft").GetString("article"))

	// No duplicate review while the first is still open.
	h.chief.Sweep(ctx)
	tasks, err = h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func runToReview(t *testing.T, h *testHarness, ctx context.Context) uuid.UUID {
	storyID := h.detect(t, ctx, 0.7, "Dam inspection findings released")
	h.chief.Sweep(ctx)
	h.completeTask(t, ctx, models.RoleReporter, models.Payload{
		"sources": []any{map[string]any{"url": "https://example.gov/report"}},
	})
	settle()
	h.chief.Sweep(ctx)

	draftTask, err := h.queue.Claim(ctx, uuid.New(), models.RoleReporter)
	require.NoError(t, err)
	output := models.Payload{
		"article":    "Inspectors found no structural issues.",
		"headline":   "Dam passes inspection",
		"word_count": 120,
	}
	require.NoError(t, h.queue.Complete(ctx, draftTask.ID, output))
	_, err = h.events.Append(ctx, storyID, models.EventDraftCompleted, models.Payload{"word_count": 120}, nil)
	require.NoError(t, err)
	_, err = h.events.Append(ctx, storyID, models.TaskCompletedEvent(models.StageDraft), models.Payload{
		"task_id": draftTask.ID.String(),
		"output":  output,
	}, nil)
	require.NoError(t, err)
	settle()
	h.chief.Sweep(ctx)
	return storyID
}

func TestSweepApprovalPublishes(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := runToReview(t, h, ctx)

	h.completeTask(t, ctx, models.RoleEditor, models.Payload{
		"decision":           "APPROVE",
		"score":              0.92,
		"verification_score": 0.95,
		"style_score":        0.85,
	})
	settle()

	h.chief.Sweep(ctx)

	article, err := h.articles.GetByStory(ctx, storyID)
	require.NoError(t, err)
	require.NotNil(t, article)
	assert.Equal(t, "Dam passes inspection", article.Headline)
	assert.Equal(t, "Inspectors found no structural issues.", article.Body)
	assert.InDelta(t, 0.92, article.Metadata.GetFloat("review_score"), 1e-6)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	publish := tasks[len(tasks)-1]
	assert.Equal(t, models.StagePublish, publish.Stage)
	assert.Equal(t, 8, publish.Priority)
	assert.Equal(t, article.ID.String(), publish.Input.GetString("article_id"))
	assert.Equal(t, []string{"rss"}, publish.Input.GetStringSlice("channels"))

	// No duplicate publish task or article on re-sweep.
	h.chief.Sweep(ctx)
	after, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, after, len(tasks))
}

func TestSweepRejectionRequestsRevision(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := runToReview(t, h, ctx)

	h.completeTask(t, ctx, models.RoleEditor, models.Payload{
		"decision": "REJECT",
		"score":    0.55,
		"feedback": "Second paragraph needs attribution.",
	})
	settle()

	h.chief.Sweep(ctx)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	edit := tasks[len(tasks)-1]
	assert.Equal(t, models.StageEdit, edit.Stage)
	assert.Equal(t, 7, edit.Priority)
	assert.Equal(t, 1, edit.Input.GetInt("revision_number"))
	assert.Equal(t, "Second paragraph needs attribution.", edit.Input.GetString("feedback"))
	assert.Equal(t, "Inspectors found no structural issues.", edit.Input.GetMap("draft").GetString("article"))

	// The stale REJECT must not spawn a second edit task.
	h.chief.Sweep(ctx)
	after, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, after, len(tasks))
}

func TestSweepKillsStoryAtRevisionBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRevisions = 1
	h := newTestHarness(t, cfg)
	ctx := context.Background()

	storyID := runToReview(t, h, ctx)

	// First rejection: under the bound, a revision is requested.
	h.completeTask(t, ctx, models.RoleEditor, models.Payload{
		"decision": "REJECT",
		"feedback": "Needs work.",
	})
	settle()
	h.chief.Sweep(ctx)

	// Worker revises; the revision goes back to review.
	editTask, err := h.queue.Claim(ctx, uuid.New(), models.RoleReporter)
	require.NoError(t, err)
	require.Equal(t, models.StageEdit, editTask.Stage)
	output := models.Payload{"article": "Revised body.", "headline": "Dam passes inspection", "is_revision": true}
	require.NoError(t, h.queue.Complete(ctx, editTask.ID, output))
	_, err = h.events.Append(ctx, storyID, models.EventRevisionDone, models.Payload{"word_count": 2}, nil)
	require.NoError(t, err)
	_, err = h.events.Append(ctx, storyID, models.TaskCompletedEvent(models.StageEdit), models.Payload{
		"task_id": editTask.ID.String(),
		"output":  output,
	}, nil)
	require.NoError(t, err)
	settle()
	h.chief.Sweep(ctx)

	// Second rejection: the bound is reached and the story dies.
	h.completeTask(t, ctx, models.RoleEditor, models.Payload{
		"decision": "REJECT",
		"feedback": "Still not publishable.",
	})
	settle()
	h.chief.Sweep(ctx)

	has, err := h.events.HasAny(ctx, storyID, models.EventStoryKilled)
	require.NoError(t, err)
	assert.True(t, has)

	killed, err := h.events.LatestByType(ctx, storyID, models.EventStoryKilled)
	require.NoError(t, err)
	require.NotNil(t, killed)
	assert.Equal(t, "too_many_revisions", killed.Payload.GetString("reason"))
	assert.Equal(t, "Still not publishable.", killed.Payload.GetString("last_feedback"))

	// Terminal: later sweeps leave the story alone.
	before, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	h.chief.Sweep(ctx)
	after, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestSweepProcessesHumanPrompts(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.7, "Council budget vote")
	h.chief.Sweep(ctx)

	promptID, err := h.oversight.CreatePrompt(ctx, storyID, "Was the vote unanimous?", nil, nil)
	require.NoError(t, err)

	h.chief.Sweep(ctx)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	var promptTask *models.Task
	for i := range tasks {
		if tasks[i].Priority == 10 {
			promptTask = &tasks[i]
		}
	}
	require.NotNil(t, promptTask, "prompt research task should exist")
	assert.Equal(t, models.StageResearch, promptTask.Stage)
	assert.Equal(t, "Was the vote unanimous?", promptTask.Input.GetString("human_prompt_text"))
	assert.Equal(t, int(promptID), promptTask.Input.GetInt("human_prompt_id"))

	// Marked processing: a second sweep must not dispatch it again.
	pending, err := h.oversight.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	h.chief.Sweep(ctx)
	after, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Len(t, after, len(tasks))
}

func TestSweepSkipsPromptWithoutDetection(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := uuid.New()
	_, err := h.oversight.CreatePrompt(ctx, storyID, "What happened here?", nil, nil)
	require.NoError(t, err)

	h.chief.Sweep(ctx)

	// Prompt stays pending; no task was created.
	pending, err := h.oversight.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSweepRecordsPersistentStall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StalledLease = -time.Second
	h := newTestHarness(t, cfg)
	ctx := context.Background()

	storyID := uuid.New()
	_, err := h.events.Append(ctx, storyID, models.EventStoryCreated, nil, nil)
	require.NoError(t, err)

	// A claimed task with its recovery budget exhausted: the sweep's
	// recovery pass must fail it and surface the stall in the event log.
	taskID, err := h.queue.Create(ctx, storyID, models.StageDraft, 5, nil, nil)
	require.NoError(t, err)
	_, err = h.queue.Claim(ctx, uuid.New(), models.RoleReporter)
	require.NoError(t, err)
	_, err = h.db.Pool().Exec(ctx,
		`UPDATE story_tasks SET recovery_count = $2 WHERE id = $1`,
		taskID, taskqueue.MaxRecoveries)
	require.NoError(t, err)

	h.chief.Sweep(ctx)

	got, err := h.queue.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.Status)

	has, err := h.events.HasAny(ctx, storyID, models.TaskFailedEvent(models.StageDraft))
	require.NoError(t, err)
	assert.True(t, has, "persistent stall must land in the event log")
}

func TestSweepMarksStaleAgentsOffline(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()
	registry := agent.NewRegistry(h.db)

	staleID := uuid.New()
	require.NoError(t, registry.Register(ctx, staleID, models.RoleReporter))
	_, err := h.db.Pool().Exec(ctx,
		`UPDATE agents SET last_heartbeat = now() - interval '10 minutes' WHERE id = $1`,
		staleID)
	require.NoError(t, err)

	liveID := uuid.New()
	require.NoError(t, registry.Register(ctx, liveID, models.RoleEditor))

	h.chief.Sweep(ctx)

	agents, err := registry.List(ctx)
	require.NoError(t, err)
	byID := make(map[uuid.UUID]models.AgentStatus, len(agents))
	for _, a := range agents {
		byID[a.ID] = a.Status
	}
	assert.Equal(t, models.AgentOffline, byID[staleID])
	assert.Equal(t, models.AgentIdle, byID[liveID])
}

func TestSweepDefersReviewUntilDraftOutputRecorded(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := h.detect(t, ctx, 0.7, "Transit fare overhaul announced")
	h.chief.Sweep(ctx)
	h.completeTask(t, ctx, models.RoleReporter, models.Payload{"sources": []any{}})
	settle()
	h.chief.Sweep(ctx)

	// The worker has appended the stage marker but the runtime has not yet
	// recorded the completion event carrying the output.
	draftTask, err := h.queue.Claim(ctx, uuid.New(), models.RoleReporter)
	require.NoError(t, err)
	_, err = h.events.Append(ctx, storyID, models.EventDraftCompleted, models.Payload{"word_count": 300}, nil)
	require.NoError(t, err)
	settle()

	h.chief.Sweep(ctx)

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, tasks, 2, "no review task before the draft output is recorded")

	output := models.Payload{
		"article":    "The fare overhaul takes effect in March.",
		"headline":   "Transit fare overhaul announced",
		"word_count": 300,
	}
	require.NoError(t, h.queue.Complete(ctx, draftTask.ID, output))
	_, err = h.events.Append(ctx, storyID, models.TaskCompletedEvent(models.StageDraft), models.Payload{
		"task_id": draftTask.ID.String(),
		"output":  output,
	}, nil)
	require.NoError(t, err)
	settle()

	h.chief.Sweep(ctx)

	tasks, err = h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	review := tasks[2]
	assert.Equal(t, models.StageReview, review.Stage)
	assert.Equal(t, "The fare overhaul takes effect in March.", review.Input.GetMap("draft").GetString("article"))
}

func TestSweepApprovalReusesExistingArticle(t *testing.T) {
	h := newTestHarness(t, DefaultConfig())
	ctx := context.Background()

	storyID := runToReview(t, h, ctx)
	h.completeTask(t, ctx, models.RoleEditor, models.Payload{
		"decision": "APPROVE",
		"score":    0.92,
	})
	settle()

	// An earlier pass got the article in but died before queueing publish.
	articleID, err := h.articles.Create(ctx, models.Article{
		StoryID:  storyID,
		Headline: "Dam passes inspection",
		Body:     "Inspectors found no structural issues.",
	})
	require.NoError(t, err)
	settle()

	h.chief.Sweep(ctx)

	var articleCount int
	require.NoError(t, h.db.Pool().QueryRow(ctx,
		`SELECT count(*) FROM articles WHERE story_id = $1`, storyID).Scan(&articleCount))
	assert.Equal(t, 1, articleCount, "approval must not duplicate the article")

	tasks, err := h.queue.ListByStory(ctx, storyID)
	require.NoError(t, err)
	publish := tasks[len(tasks)-1]
	require.Equal(t, models.StagePublish, publish.Stage)
	assert.Equal(t, articleID.String(), publish.Input.GetString("article_id"))
}
