// Package agent provides the worker runtime: registration, the poll loop
// that claims and executes tasks, and liveness heartbeats.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/models"
)

// Registry persists agent registrations and heartbeats.
type Registry struct {
	db *database.Client
}

// NewRegistry creates an agent registry.
func NewRegistry(db *database.Client) *Registry {
	return &Registry{db: db}
}

// Register upserts an agent row. Re-registering after a restart reuses the
// same id and flips the agent back to idle.
func (r *Registry) Register(ctx context.Context, agentID uuid.UUID, role models.Role) error {
	_, err := r.db.Pool().Exec(ctx,
		`INSERT INTO agents (id, role, status, last_heartbeat)
		 VALUES ($1, $2, 'idle', now())
		 ON CONFLICT (id) DO UPDATE
		 SET role = EXCLUDED.role, status = 'idle', last_heartbeat = now()`,
		agentID, role,
	)
	if err != nil {
		return fmt.Errorf("failed to register agent: %w", database.Classify(err))
	}

	slog.Info("Agent registered", "agent_id", agentID, "role", role)
	return nil
}

// Heartbeat stamps liveness and the agent's current status.
func (r *Registry) Heartbeat(ctx context.Context, agentID uuid.UUID, status models.AgentStatus) error {
	_, err := r.db.Pool().Exec(ctx,
		`UPDATE agents SET status = $2, last_heartbeat = now() WHERE id = $1`,
		agentID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to heartbeat: %w", database.Classify(err))
	}
	return nil
}

// List returns all registered agents.
func (r *Registry) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, role, status, last_heartbeat FROM agents ORDER BY role, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Role, &a.Status, &a.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agents: %w", database.Classify(err))
	}
	return out, nil
}

// ListStale returns agents whose last heartbeat is older than the cutoff and
// that are not already offline.
func (r *Registry) ListStale(ctx context.Context, olderThan time.Duration) ([]models.Agent, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, role, status, last_heartbeat FROM agents
		 WHERE status != 'offline' AND last_heartbeat < $1`,
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale agents: %w", database.Classify(err))
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Role, &a.Status, &a.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agents: %w", database.Classify(err))
	}
	return out, nil
}
