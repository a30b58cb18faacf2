// Package taskqueue implements the role-partitioned work queue: exactly-once
// claiming via FOR UPDATE SKIP LOCKED, priority ordering with stable
// tiebreakers, and lease-style recovery of stalled tasks.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasks indicates no pending task is claimable for the role.
	ErrNoTasks = errors.New("no tasks available")

	// ErrInvalidState indicates a terminal transition was attempted on a
	// task that is not active. This is a bug or a lost race; do not retry.
	ErrInvalidState = errors.New("task is not in a valid state for this transition")

	// ErrNotFound indicates the task id does not exist.
	ErrNotFound = errors.New("task not found")
)

const taskColumns = `id, story_id, stage, status, priority, assigned_agent,
	input, output, recovery_count, created_at, started_at, completed_at, deadline`

// Queue is the durable task queue.
type Queue struct {
	db *database.Client
}

// New creates a task queue backed by the given client.
func New(db *database.Client) *Queue {
	return &Queue{db: db}
}

// Create inserts a pending task and returns its id. deadline may be nil.
func (q *Queue) Create(ctx context.Context, storyID uuid.UUID, stage models.Stage, priority int, input models.Payload, deadline *time.Time) (uuid.UUID, error) {
	if input == nil {
		input = models.Payload{}
	}

	var taskID uuid.UUID
	err := q.db.Pool().QueryRow(ctx,
		`INSERT INTO story_tasks (story_id, stage, priority, input, deadline)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		storyID, stage, priority, input, deadline,
	).Scan(&taskID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task: %w", database.Classify(err))
	}

	slog.Info("Task created",
		"task_id", taskID,
		"story_id", storyID,
		"stage", stage,
		"priority", priority)

	return taskID, nil
}

// Claim atomically claims the highest-priority pending task whose stage is
// eligible for role. The subquery takes a row lock with SKIP LOCKED, so
// concurrent claimers race without blocking and exactly one wins each row.
// Ordering is priority DESC, created_at ASC, id ASC — the stable id
// tiebreaker prevents starvation on saturated priorities.
//
// Returns ErrNoTasks when nothing is claimable.
func (q *Queue) Claim(ctx context.Context, agentID uuid.UUID, role models.Role) (*models.Task, error) {
	stages := roleStages[role]
	if len(stages) == 0 {
		return nil, ErrNoTasks
	}

	row := q.db.Pool().QueryRow(ctx,
		`UPDATE story_tasks
		 SET status = 'active', assigned_agent = $1, started_at = now()
		 WHERE id = (
		     SELECT id FROM story_tasks
		     WHERE status = 'pending' AND stage = ANY($2)
		     ORDER BY priority DESC, created_at ASC, id ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		agentID, stageStrings(stages),
	)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTasks
		}
		return nil, fmt.Errorf("failed to claim task: %w", database.Classify(err))
	}

	slog.Info("Task claimed",
		"task_id", task.ID,
		"agent_id", agentID,
		"stage", task.Stage)

	return task, nil
}

// Complete transitions an active task to completed, persisting output and
// stamping completed_at. Re-completing an already-completed task is a no-op;
// any other non-active status returns ErrInvalidState.
func (q *Queue) Complete(ctx context.Context, taskID uuid.UUID, output models.Payload) error {
	if output == nil {
		output = models.Payload{}
	}

	tag, err := q.db.Pool().Exec(ctx,
		`UPDATE story_tasks
		 SET status = 'completed', output = $2, completed_at = now()
		 WHERE id = $1 AND status = 'active'`,
		taskID, output,
	)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return q.checkTerminalNoop(ctx, taskID, models.TaskCompleted)
	}

	slog.Info("Task completed", "task_id", taskID)
	return nil
}

// Fail transitions an active task to failed, recording the error message as
// output. Terminal for the task; re-enqueueing is the orchestrator's call.
func (q *Queue) Fail(ctx context.Context, taskID uuid.UUID, errorMessage string) error {
	tag, err := q.db.Pool().Exec(ctx,
		`UPDATE story_tasks
		 SET status = 'failed', output = jsonb_build_object('error', $2::TEXT), completed_at = now()
		 WHERE id = $1 AND status = 'active'`,
		taskID, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return q.checkTerminalNoop(ctx, taskID, models.TaskFailed)
	}

	slog.Warn("Task failed", "task_id", taskID, "error", errorMessage)
	return nil
}

// checkTerminalNoop distinguishes "already in the requested terminal state"
// (idempotent no-op) from a genuine invalid transition.
func (q *Queue) checkTerminalNoop(ctx context.Context, taskID uuid.UUID, want models.TaskStatus) error {
	var status models.TaskStatus
	err := q.db.Pool().QueryRow(ctx,
		`SELECT status FROM story_tasks WHERE id = $1`, taskID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return fmt.Errorf("failed to query task status: %w", database.Classify(err))
	}
	if status == want {
		return nil
	}
	return fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, status)
}

// Get returns a task by id, or ErrNotFound.
func (q *Queue) Get(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	row := q.db.Pool().QueryRow(ctx,
		`SELECT `+taskColumns+` FROM story_tasks WHERE id = $1`, taskID,
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", database.Classify(err))
	}
	return task, nil
}

// ListByStory returns all tasks for a story in creation order.
func (q *Queue) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Task, error) {
	rows, err := q.db.Pool().Query(ctx,
		`SELECT `+taskColumns+` FROM story_tasks
		 WHERE story_id = $1
		 ORDER BY created_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list story tasks: %w", database.Classify(err))
	}
	defer rows.Close()

	return collectTasks(rows)
}

// CountByStage counts a story's tasks at a stage, regardless of status.
// The chief uses this for the revision bound (edit-task count).
func (q *Queue) CountByStage(ctx context.Context, storyID uuid.UUID, stage models.Stage) (int, error) {
	var count int
	err := q.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM story_tasks WHERE story_id = $1 AND stage = $2`,
		storyID, stage,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", database.Classify(err))
	}
	return count, nil
}

// HasAtStage reports whether any task exists for (story, stage), optionally
// restricted to the given statuses. Backs the chief's idempotency checks.
func (q *Queue) HasAtStage(ctx context.Context, storyID uuid.UUID, stage models.Stage, statuses ...models.TaskStatus) (bool, error) {
	var exists bool
	var err error
	if len(statuses) == 0 {
		err = q.db.Pool().QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM story_tasks WHERE story_id = $1 AND stage = $2)`,
			storyID, stage,
		).Scan(&exists)
	} else {
		strs := make([]string, len(statuses))
		for i, s := range statuses {
			strs[i] = string(s)
		}
		err = q.db.Pool().QueryRow(ctx,
			`SELECT EXISTS (
			   SELECT 1 FROM story_tasks
			   WHERE story_id = $1 AND stage = $2 AND status = ANY($3)
			 )`,
			storyID, stage, strs,
		).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check tasks: %w", database.Classify(err))
	}
	return exists, nil
}

// Stats returns task counts grouped by stage and status.
func (q *Queue) Stats(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := q.db.Pool().Query(ctx,
		`SELECT stage, status, COUNT(*) FROM story_tasks GROUP BY stage, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", database.Classify(err))
	}
	defer rows.Close()

	stats := make(map[string]map[string]int)
	for rows.Next() {
		var stage, status string
		var count int
		if err := rows.Scan(&stage, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		if stats[stage] == nil {
			stats[stage] = make(map[string]int)
		}
		stats[stage][status] = count
	}
	return stats, rows.Err()
}

func collectTasks(rows pgx.Rows) ([]models.Task, error) {
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", database.Classify(err))
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.StoryID, &t.Stage, &t.Status, &t.Priority, &t.AssignedAgent,
		&t.Input, &t.Output, &t.RecoveryCount, &t.CreatedAt, &t.StartedAt,
		&t.CompletedAt, &t.Deadline,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
