package chief

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/models"
)

// admitDetections gates detected stories into the pipeline. A story needs
// admission when it has a story.detected event but neither a story.created
// nor a story.rejected; rejected stories stay rejected even if duplicate
// detections keep landing on them.
func (c *Chief) admitDetections(ctx context.Context) (int, error) {
	storyIDs, err := c.events.StoriesWithout(ctx, models.EventStoryDetected,
		models.EventStoryCreated, models.EventStoryRejected, models.EventStoryKilled)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, storyID := range storyIDs {
		if err := c.admitStory(ctx, storyID); err != nil {
			slog.Error("Story admission failed", "story_id", storyID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func (c *Chief) admitStory(ctx context.Context, storyID uuid.UUID) error {
	detection, err := c.events.LatestByType(ctx, storyID, models.EventStoryDetected)
	if err != nil {
		return err
	}
	if detection == nil {
		return nil
	}

	score := detection.Payload.GetFloat("score")
	if score < c.config.MinNewsworthiness {
		_, err := c.appendEvent(ctx, storyID, models.EventStoryRejected, models.Payload{
			"reason": "low_score",
			"score":  score,
		})
		return err
	}

	if _, err := c.appendEvent(ctx, storyID, models.EventStoryCreated, models.Payload{
		"score": score,
		"title": detection.Payload.GetString("title"),
	}); err != nil {
		return err
	}

	_, err = c.queue.Create(ctx, storyID, models.StageResearch,
		int(math.Round(score*10)),
		models.Payload{"detection_data": detection.Payload},
		nil,
	)
	if err != nil {
		return err
	}

	slog.Info("Story pipeline created", "story_id", storyID, "score", score)
	return nil
}

// advanceStories applies the stage transition rules to every story that has
// been admitted and is not yet terminal.
func (c *Chief) advanceStories(ctx context.Context) (int, error) {
	storyIDs, err := c.events.StoriesWithout(ctx, models.EventStoryCreated,
		models.EventStoryKilled, models.EventArticlePublished)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, storyID := range storyIDs {
		advanced, err := c.advanceStory(ctx, storyID)
		if err != nil {
			slog.Error("Story advancement failed", "story_id", storyID, "error", err)
			continue
		}
		if advanced {
			count++
		}
	}
	return count, nil
}

// storyView is the per-story derived state one advancement decision needs,
// folded from the event log and the story's task rows.
type storyView struct {
	detection    models.Payload // latest story.detected payload
	researchOut  models.Payload // latest task.completed.research output
	draftOut     models.Payload // latest task.completed.{draft,edit} output
	draftEvent   *models.Event  // latest draft.completed or revision.completed
	reviewEvent  *models.Event  // latest task.completed.review
	tasks        []models.Task
	editCount    int // edit tasks ever created: the revision count
	latestReview *models.Task
	latestEdit   *models.Task
}

func (c *Chief) loadStoryView(ctx context.Context, storyID uuid.UUID) (*storyView, error) {
	events, err := c.events.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.queue.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	v := &storyView{tasks: tasks}
	for i := range events {
		e := &events[i]
		switch e.EventType {
		case models.EventStoryDetected:
			v.detection = e.Payload
		case models.TaskCompletedEvent(models.StageResearch):
			v.researchOut = e.Payload.GetMap("output")
		case models.TaskCompletedEvent(models.StageDraft), models.TaskCompletedEvent(models.StageEdit):
			v.draftOut = e.Payload.GetMap("output")
		case models.EventDraftCompleted, models.EventRevisionDone:
			v.draftEvent = e
		case models.TaskCompletedEvent(models.StageReview):
			v.reviewEvent = e
		}
	}
	for i := range tasks {
		t := &tasks[i]
		switch t.Stage {
		case models.StageEdit:
			v.editCount++
			v.latestEdit = t
		case models.StageReview:
			v.latestReview = t
		}
	}
	return v, nil
}

func (v *storyView) hasStage(stage models.Stage) bool {
	for _, t := range v.tasks {
		if t.Stage == stage {
			return true
		}
	}
	return false
}

func (v *storyView) hasOpenStage(stage models.Stage) bool {
	for _, t := range v.tasks {
		if t.Stage == stage && (t.Status == models.TaskPending || t.Status == models.TaskActive) {
			return true
		}
	}
	return false
}

// advanceStory applies at most one transition per sweep. Rules are checked
// review-first so a decided review routes before a stale draft re-triggers.
func (c *Chief) advanceStory(ctx context.Context, storyID uuid.UUID) (bool, error) {
	v, err := c.loadStoryView(ctx, storyID)
	if err != nil {
		return false, err
	}

	// Review verdict routing.
	if v.reviewEvent != nil {
		review := v.reviewEvent.Payload.GetMap("output")
		switch review.GetString("decision") {
		case "APPROVE":
			if !v.hasStage(models.StagePublish) {
				return true, c.approveStory(ctx, storyID, v, review)
			}
		case "REJECT":
			if eventNewerThanTask(v.reviewEvent, v.latestEdit) {
				if v.editCount >= c.config.MaxRevisions {
					return true, c.killStory(ctx, storyID, review)
				}
				return true, c.requestRevision(ctx, storyID, v, review)
			}
		}
	}

	// Draft (or revision) ready for review. The draft.completed marker alone
	// is not enough: the worker appends it mid-task, before the runtime
	// records task.completed.draft with the output. Routing waits for the
	// completion event so the review input is never empty.
	if v.draftEvent != nil && len(v.draftOut) > 0 && !v.hasOpenStage(models.StageReview) &&
		eventNewerThanTask(v.draftEvent, v.latestReview) {
		_, err := c.queue.Create(ctx, storyID, models.StageReview, 6, models.Payload{
			"draft":         v.draftOut,
			"research_data": v.researchOut,
		}, nil)
		if err != nil {
			return false, err
		}
		slog.Info("Review task created", "story_id", storyID)
		return true, nil
	}

	// Research done, no draft yet.
	if len(v.researchOut) > 0 && !v.hasStage(models.StageDraft) {
		_, err := c.queue.Create(ctx, storyID, models.StageDraft, 5, models.Payload{
			"detection_data": v.detection,
			"research_data":  v.researchOut,
		}, nil)
		if err != nil {
			return false, err
		}
		slog.Info("Draft task created", "story_id", storyID)
		return true, nil
	}

	return false, nil
}

// approveStory persists the article from the latest draft and queues
// publishing. A prior sweep may have inserted the article and then failed
// on the task create; the existing row is reused, not duplicated.
func (c *Chief) approveStory(ctx context.Context, storyID uuid.UUID, v *storyView, review models.Payload) error {
	existing, err := c.articles.GetByStory(ctx, storyID)
	if err != nil {
		return err
	}

	var articleID uuid.UUID
	if existing != nil {
		articleID = existing.ID
	} else {
		headline := v.draftOut.GetString("headline")
		if headline == "" {
			headline = v.detection.GetString("title")
		}
		body := v.draftOut.GetString("article")
		if body == "" {
			return fmt.Errorf("approved story %s has no draft body", storyID)
		}

		article := models.Article{
			StoryID:  storyID,
			Headline: headline,
			Body:     body,
			Sources:  v.researchOut.GetMapSlice("sources"),
			Entities: v.researchOut.GetMap("entities"),
			Metadata: models.Payload{
				"word_count":   v.draftOut.GetInt("word_count"),
				"review_score": review.GetFloat("score"),
			},
		}
		if summary := v.detection.GetString("summary"); summary != "" {
			article.Summary = &summary
		}

		articleID, err = c.articles.Create(ctx, article)
		if err != nil {
			return err
		}
	}

	_, err = c.queue.Create(ctx, storyID, models.StagePublish, 8, models.Payload{
		"article_id": articleID.String(),
		"channels":   c.config.DefaultChannels,
	}, nil)
	if err != nil {
		return err
	}

	slog.Info("Story approved", "story_id", storyID, "article_id", articleID)
	return nil
}

func (c *Chief) requestRevision(ctx context.Context, storyID uuid.UUID, v *storyView, review models.Payload) error {
	_, err := c.queue.Create(ctx, storyID, models.StageEdit, 7, models.Payload{
		"draft":           v.draftOut,
		"feedback":        review.GetString("feedback"),
		"revision_number": v.editCount + 1,
	}, nil)
	if err != nil {
		return err
	}

	slog.Info("Revision requested",
		"story_id", storyID,
		"revision_number", v.editCount+1)
	return nil
}

func (c *Chief) killStory(ctx context.Context, storyID uuid.UUID, review models.Payload) error {
	_, err := c.appendEvent(ctx, storyID, models.EventStoryKilled, models.Payload{
		"reason":        "too_many_revisions",
		"last_feedback": review.GetString("feedback"),
	})
	if err != nil {
		return err
	}

	slog.Warn("Story killed", "story_id", storyID, "reason", "too_many_revisions")
	return nil
}

// processHumanPrompts turns each pending prompt into a priority-10 research
// task and marks it processing. The processing mark gates re-dispatch when
// several orchestrators race.
func (c *Chief) processHumanPrompts(ctx context.Context) (int, error) {
	prompts, err := c.oversight.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, prompt := range prompts {
		detection, err := c.events.LatestByType(ctx, prompt.StoryID, models.EventStoryDetected)
		if err != nil {
			slog.Error("Prompt story lookup failed", "prompt_id", prompt.ID, "error", err)
			continue
		}
		if detection == nil {
			slog.Warn("Cannot process prompt, no detection event found",
				"story_id", prompt.StoryID,
				"prompt_id", prompt.ID)
			continue
		}

		if err := c.oversight.MarkPromptProcessing(ctx, prompt.ID); err != nil {
			// Another orchestrator got there first.
			continue
		}

		_, err = c.queue.Create(ctx, prompt.StoryID, models.StageResearch, 10, models.Payload{
			"detection_data":    detection.Payload,
			"human_prompt_id":   prompt.ID,
			"human_prompt_text": prompt.PromptText,
		}, nil)
		if err != nil {
			slog.Error("Prompt task creation failed", "prompt_id", prompt.ID, "error", err)
			continue
		}

		slog.Info("Created research task for human prompt",
			"story_id", prompt.StoryID,
			"prompt_id", prompt.ID)
		count++
	}
	return count, nil
}

// recoverStalled resets expired leases and surfaces permanently stalled
// tasks as task.failed events. Resets stay silent: the task may still
// succeed on re-claim.
func (c *Chief) recoverStalled(ctx context.Context) (int, error) {
	reset, failed, err := c.queue.RecoverStalled(ctx, c.config.StalledLease)
	if err != nil {
		return 0, err
	}

	for _, t := range failed {
		if _, err := c.appendEvent(ctx, t.StoryID, models.TaskFailedEvent(t.Stage), models.Payload{
			"task_id": t.ID.String(),
			"error":   "persistent_stall",
		}); err != nil {
			slog.Error("Failed to append stall event", "task_id", t.ID, "error", err)
		}
	}
	return len(reset) + len(failed), nil
}

func (c *Chief) appendEvent(ctx context.Context, storyID uuid.UUID, eventType string, payload models.Payload) (int64, error) {
	agentID := c.id
	return c.events.Append(ctx, storyID, eventType, payload, &agentID)
}

// eventNewerThanTask reports whether the event postdates the task's
// creation. A nil task means nothing to compare against, so the event wins.
func eventNewerThanTask(e *models.Event, t *models.Task) bool {
	if t == nil {
		return true
	}
	return e.CreatedAt.After(t.CreatedAt)
}
