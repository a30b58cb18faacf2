package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// MaxRecoveries is the number of times a stalled task is reset to pending
// before it is failed outright.
const MaxRecoveries = 3

// RecoverStalled finds active tasks whose lease has expired (started_at older
// than staleAfter) and resets them to pending so another agent can claim
// them. The claiming agent may be dead or merely slow; reset is safe either
// way because Complete and Fail only act on active rows.
//
// A task that keeps stalling is not going to succeed by being retried
// forever: after MaxRecoveries resets it is failed with a persistent_stall
// marker instead. Both the reset and the failed tasks are returned so the
// orchestrator can record events for them.
func (q *Queue) RecoverStalled(ctx context.Context, staleAfter time.Duration) (reset, failed []models.Task, err error) {
	cutoff := time.Now().Add(-staleAfter)

	rows, err := q.db.Pool().Query(ctx,
		`UPDATE story_tasks
		 SET status = 'failed',
		     output = jsonb_build_object('error', 'persistent_stall'),
		     completed_at = now()
		 WHERE status = 'active' AND started_at < $1 AND recovery_count >= $2
		 RETURNING `+taskColumns,
		cutoff, MaxRecoveries,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fail persistently stalled tasks: %w", database.Classify(err))
	}
	failed, err = collectTasks(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = q.db.Pool().Query(ctx,
		`UPDATE story_tasks
		 SET status = 'pending',
		     assigned_agent = NULL,
		     started_at = NULL,
		     recovery_count = recovery_count + 1
		 WHERE status = 'active' AND started_at < $1
		 RETURNING `+taskColumns,
		cutoff,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reset stalled tasks: %w", database.Classify(err))
	}
	reset, err = collectTasks(rows)
	if err != nil {
		return nil, nil, err
	}

	for _, t := range failed {
		slog.Warn("Stalled task failed permanently",
			"task_id", t.ID,
			"story_id", t.StoryID,
			"stage", t.Stage,
			"recovery_count", t.RecoveryCount)
	}
	for _, t := range reset {
		slog.Warn("Stalled task reset to pending",
			"task_id", t.ID,
			"story_id", t.StoryID,
			"stage", t.Stage,
			"recovery_count", t.RecoveryCount)
	}

	return reset, failed, nil
}
