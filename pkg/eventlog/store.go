// Package eventlog implements the append-only event log that is the system
// of record for every story. Rows are never updated or deleted; derived state
// is computed by folding over a story's events.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// ErrEmptyEventType is returned by Append when event_type is empty.
var ErrEmptyEventType = errors.New("event type must not be empty")

// Store is the append-only event store.
type Store struct {
	db *database.Client
}

// New creates an event log store.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// Append writes one event and returns its sequence number. The sequence is
// monotonic per backend assignment, not per story. agentID may be nil for
// events not attributable to a single agent.
func (s *Store) Append(ctx context.Context, storyID uuid.UUID, eventType string, payload models.Payload, agentID *uuid.UUID) (int64, error) {
	if eventType == "" {
		return 0, ErrEmptyEventType
	}
	if payload == nil {
		payload = models.Payload{}
	}

	var seq int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO story_events (story_id, agent_id, event_type, payload)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		storyID, agentID, eventType, payload,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append event: %w", database.Classify(err))
	}

	slog.Debug("Event appended",
		"event_seq", seq,
		"story_id", storyID,
		"event_type", eventType)

	return seq, nil
}

// ListByStory returns all events for a story in chronological order.
// Ties on created_at break by sequence number, never by wall clock alone.
func (s *Store) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Event, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, agent_id, event_type, payload, created_at
		 FROM story_events
		 WHERE story_id = $1
		 ORDER BY created_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list story events: %w", database.Classify(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the most recent events across all stories, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, agent_id, event_type, payload, created_at
		 FROM story_events
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", database.Classify(err))
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestByType returns the most recent event of the given type for a story,
// or nil when none exists.
func (s *Store) LatestByType(ctx context.Context, storyID uuid.UUID, eventType string) (*models.Event, error) {
	var e models.Event
	err := s.db.Pool().QueryRow(ctx,
		`SELECT id, story_id, agent_id, event_type, payload, created_at
		 FROM story_events
		 WHERE story_id = $1 AND event_type = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		storyID, eventType,
	).Scan(&e.Seq, &e.StoryID, &e.AgentID, &e.EventType, &e.Payload, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest event: %w", database.Classify(err))
	}
	return &e, nil
}

// HasAny reports whether the story has at least one event of any of the
// given types.
func (s *Store) HasAny(ctx context.Context, storyID uuid.UUID, eventTypes ...string) (bool, error) {
	var exists bool
	err := s.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM story_events
		   WHERE story_id = $1 AND event_type = ANY($2)
		 )`,
		storyID, eventTypes,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check events: %w", database.Classify(err))
	}
	return exists, nil
}

// StoriesWithout returns story ids that have at least one event of withType
// and none of withoutTypes. The orchestrator uses this for story discovery:
// detected-but-not-admitted, created-but-not-terminal.
func (s *Store) StoriesWithout(ctx context.Context, withType string, withoutTypes ...string) ([]uuid.UUID, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT DISTINCT story_id FROM story_events
		 WHERE event_type = $1
		   AND story_id NOT IN (
		     SELECT story_id FROM story_events WHERE event_type = ANY($2)
		   )`,
		withType, withoutTypes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", database.Classify(err))
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan story id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read story ids: %w", database.Classify(err))
	}
	return ids, nil
}

// CountByType counts a story's events grouped by event type.
func (s *Store) CountByType(ctx context.Context, storyID uuid.UUID) (map[string]int, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT event_type, COUNT(*)
		 FROM story_events
		 WHERE story_id = $1
		 GROUP BY event_type`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", database.Classify(err))
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

func scanEvents(rows pgx.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.Seq, &e.StoryID, &e.AgentID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", database.Classify(err))
	}
	return events, nil
}
