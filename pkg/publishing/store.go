// Package publishing distributes approved articles to delivery channels and
// records every attempt, success or not, as a publication row.
package publishing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// Store persists publication records.
type Store struct {
	db *database.Client
}

// NewStore creates a publication store.
func NewStore(db *database.Client) *Store {
	return &Store{db: db}
}

// Record writes one delivery attempt. Failures are recorded too; the
// publication table is the audit trail, not a success list.
func (s *Store) Record(ctx context.Context, p models.Publication) (int64, error) {
	var id int64
	err := s.db.Pool().QueryRow(ctx,
		`INSERT INTO publications (article_id, channel, success, external_ref, error)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		p.ArticleID, p.Channel, p.Success, p.ExternalRef, p.Error,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record publication: %w", database.Classify(err))
	}

	slog.Info("Publication recorded",
		"publication_id", id,
		"article_id", p.ArticleID,
		"channel", p.Channel,
		"success", p.Success)
	return id, nil
}

// ListByArticle returns an article's publication attempts, oldest first.
func (s *Store) ListByArticle(ctx context.Context, articleID uuid.UUID) ([]models.Publication, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT id, article_id, channel, success, external_ref, error, published_at
		 FROM publications
		 WHERE article_id = $1
		 ORDER BY published_at ASC, id ASC`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.Publication
	for rows.Next() {
		var p models.Publication
		if err := rows.Scan(&p.ID, &p.ArticleID, &p.Channel, &p.Success,
			&p.ExternalRef, &p.Error, &p.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read publications: %w", database.Classify(err))
	}
	return out, nil
}
