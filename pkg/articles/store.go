// Package articles persists published articles and editor reviews.
package articles

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

// ErrNotFound indicates the article id does not exist.
var ErrNotFound = errors.New("article not found")

const articleColumns = `id, story_id, headline, byline, summary, body,
	sources, entities, tags, metadata, published_at, updated_at`

// Store persists articles and reviews.
type Store struct {
	db *database.Client
}

// New creates an article store.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// Create inserts an approved article and returns its id.
func (s *Store) Create(ctx context.Context, a models.Article) (uuid.UUID, error) {
	if a.Sources == nil {
		a.Sources = []models.Payload{}
	}
	if a.Entities == nil {
		a.Entities = models.Payload{}
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Metadata == nil {
		a.Metadata = models.Payload{}
	}

	var id uuid.UUID
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO articles (story_id, headline, byline, summary, body, sources, entities, tags, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		a.StoryID, a.Headline, a.Byline, a.Summary, a.Body,
		a.Sources, a.Entities, a.Tags, a.Metadata,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create article: %w", database.Classify(err))
	}

	slog.Info("Article created", "article_id", id, "story_id", a.StoryID, "headline", a.Headline)
	return id, nil
}

// Get returns an article by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, articleID uuid.UUID) (*models.Article, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, articleID,
	)
	a, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, articleID)
		}
		return nil, fmt.Errorf("failed to get article: %w", database.Classify(err))
	}
	return a, nil
}

// GetByStory returns the most recent article for a story, or nil when the
// story has not produced one.
func (s *Store) GetByStory(ctx context.Context, storyID uuid.UUID) (*models.Article, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+articleColumns+` FROM articles
		 WHERE story_id = $1
		 ORDER BY published_at DESC
		 LIMIT 1`,
		storyID,
	)
	a, err := scanArticle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get story article: %w", database.Classify(err))
	}
	return a, nil
}

// ListRecent returns the newest articles across all stories.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.Article, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Pool().Query(ctx,
		`SELECT `+articleColumns+` FROM articles
		 ORDER BY published_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read articles: %w", database.Classify(err))
	}
	return out, nil
}

// AddReview persists an editor's verdict.
func (s *Store) AddReview(ctx context.Context, r models.ArticleReview) (int64, error) {
	if r.Meta == nil {
		r.Meta = models.Payload{}
	}

	var id int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO article_reviews
		   (story_id, article_id, editor_agent_id, score, verification_score, style_score, decision, feedback, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		r.StoryID, r.ArticleID, r.EditorAgentID, r.Score,
		r.VerificationScore, r.StyleScore, r.Decision, r.Feedback, r.Meta,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add review: %w", database.Classify(err))
	}

	slog.Info("Review recorded",
		"review_id", id,
		"story_id", r.StoryID,
		"decision", r.Decision,
		"score", r.Score)
	return id, nil
}

// ListReviews returns a story's reviews, oldest first.
func (s *Store) ListReviews(ctx context.Context, storyID uuid.UUID) ([]models.ArticleReview, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, story_id, article_id, editor_agent_id, score, verification_score,
		        style_score, decision, feedback, meta, created_at
		 FROM article_reviews
		 WHERE story_id = $1
		 ORDER BY created_at ASC, id ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.ArticleReview
	for rows.Next() {
		var r models.ArticleReview
		if err := rows.Scan(&r.ID, &r.StoryID, &r.ArticleID, &r.EditorAgentID, &r.Score,
			&r.VerificationScore, &r.StyleScore, &r.Decision, &r.Feedback, &r.Meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", database.Classify(err))
	}
	return out, nil
}

func scanArticle(row pgx.Row) (*models.Article, error) {
	var a models.Article
	err := row.Scan(
		&a.ID, &a.StoryID, &a.Headline, &a.Byline, &a.Summary, &a.Body,
		&a.Sources, &a.Entities, &a.Tags, &a.Metadata, &a.PublishedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
