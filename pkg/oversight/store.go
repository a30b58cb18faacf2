// Package oversight persists the human control surface: prompts that steer a
// story and sources a human attaches for research. The pipeline is fully
// autonomous; this is where a person reaches in.
package oversight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// ErrNotFound indicates the prompt or source id does not exist.
var ErrNotFound = errors.New("oversight record not found")

// Store persists human prompts and sources.
type Store struct {
	db *database.Client
}

// New creates an oversight store.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// CreatePrompt records a pending human prompt for a story.
func (s *Store) CreatePrompt(ctx context.Context, storyID uuid.UUID, promptText string, contextPayload models.Payload, createdBy *string) (int64, error) {
	if contextPayload == nil {
		contextPayload = models.Payload{}
	}

	var id int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO human_prompts (story_id, prompt_text, context, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		storyID, promptText, contextPayload, createdBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create prompt: %w", database.Classify(err))
	}

	slog.Info("Human prompt created", "prompt_id", id, "story_id", storyID)
	return id, nil
}

// ListPending returns pending prompts, oldest first, so the orchestrator
// drains them in submission order.
func (s *Store) ListPending(ctx context.Context) ([]models.HumanPrompt, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, prompt_text, context, created_by, status, response, created_at
		 FROM human_prompts
		 WHERE status = 'pending'
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending prompts: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.HumanPrompt
	for rows.Next() {
		var p models.HumanPrompt
		if err := rows.Scan(&p.ID, &p.StoryID, &p.PromptText, &p.Context, &p.CreatedBy,
			&p.Status, &p.Response, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read prompts: %w", database.Classify(err))
	}
	return out, nil
}

// MarkPromptProcessing moves a pending prompt to processing. Returns
// ErrNotFound when the prompt is missing or already past pending, so two
// orchestrators cannot both dispatch it.
func (s *Store) MarkPromptProcessing(ctx context.Context, promptID int64) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE human_prompts SET status = 'processing'
		 WHERE id = $1 AND status = 'pending'`,
		promptID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark prompt processing: %w", database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: prompt %d", ErrNotFound, promptID)
	}
	return nil
}

// AnswerPrompt records a worker's response and closes the prompt.
func (s *Store) AnswerPrompt(ctx context.Context, promptID int64, response models.Payload) error {
	if response == nil {
		response = models.Payload{}
	}
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE human_prompts SET status = 'answered', response = $2
		 WHERE id = $1`,
		promptID, response,
	)
	if err != nil {
		return fmt.Errorf("failed to answer prompt: %w", database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: prompt %d", ErrNotFound, promptID)
	}

	slog.Info("Human prompt answered", "prompt_id", promptID)
	return nil
}

// AddSource attaches a human-supplied source to a story.
func (s *Store) AddSource(ctx context.Context, src models.HumanSource) (int64, error) {
	if src.Metadata == nil {
		src.Metadata = models.Payload{}
	}

	var id int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO story_sources (story_id, source_type, source_url, source_content, source_metadata, added_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		src.StoryID, src.Type, src.URL, src.Content, src.Metadata, src.AddedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add source: %w", database.Classify(err))
	}

	slog.Info("Human source added", "source_id", id, "story_id", src.StoryID, "source_type", src.Type)
	return id, nil
}

// ListUnprocessedSources returns a story's sources not yet ingested by a
// research worker, oldest first.
func (s *Store) ListUnprocessedSources(ctx context.Context, storyID uuid.UUID) ([]models.HumanSource, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, source_type, source_url, source_content, source_metadata, added_by, processed, added_at
		 FROM story_sources
		 WHERE story_id = $1 AND processed = false
		 ORDER BY added_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.HumanSource
	for rows.Next() {
		var src models.HumanSource
		if err := rows.Scan(&src.ID, &src.StoryID, &src.Type, &src.URL, &src.Content,
			&src.Metadata, &src.AddedBy, &src.Processed, &src.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", database.Classify(err))
	}
	return out, nil
}

// MarkSourceProcessed flips a source's processed flag after ingestion.
func (s *Store) MarkSourceProcessed(ctx context.Context, sourceID int64) error {
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE story_sources SET processed = true WHERE id = $1`, sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark source processed: %w", database.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: source %d", ErrNotFound, sourceID)
	}
	return nil
}
