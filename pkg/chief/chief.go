// Package chief implements the orchestrator. The chief writes no articles;
// it folds over each story's event log and drives the pipeline: admitting
// detections, creating next-stage tasks, routing review verdicts, answering
// the revision bound, and recovering stalled work. Derived state always
// comes from events, never from task rows.
package chief

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/oversight"
	"github.com/newstown/newstown/pkg/taskqueue"
)

// Config tunes the orchestrator.
type Config struct {
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	MinNewsworthiness float64
	MaxRevisions      int
	StalledLease      time.Duration
	DefaultChannels   []string
}

// DefaultConfig returns the standard orchestrator settings.
func DefaultConfig() Config {
	return Config{
		SweepInterval:     5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MinNewsworthiness: 0.6,
		MaxRevisions:      3,
		StalledLease:      30 * time.Minute,
		DefaultChannels:   []string{"rss"},
	}
}

// Chief is the orchestrator.
type Chief struct {
	id        uuid.UUID
	queue     *taskqueue.Queue
	events    *eventlog.Store
	articles  *articles.Store
	oversight *oversight.Store
	registry  *agent.Registry
	config    Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a chief.
func New(queue *taskqueue.Queue, events *eventlog.Store, arts *articles.Store, over *oversight.Store, registry *agent.Registry, cfg Config) *Chief {
	return &Chief{
		id:        uuid.New(),
		queue:     queue,
		events:    events,
		articles:  arts,
		oversight: over,
		registry:  registry,
		config:    cfg,
		stopCh:    make(chan struct{}),
	}
}

// ID returns the chief's agent id.
func (c *Chief) ID() uuid.UUID { return c.id }

// Start registers the chief and begins the sweep loop.
func (c *Chief) Start(ctx context.Context) error {
	if err := c.registry.Register(ctx, c.id, models.RoleChief); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it.
func (c *Chief) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.registry.Heartbeat(ctx, c.id, models.AgentOffline); err != nil {
		slog.Error("Failed to record chief offline", "agent_id", c.id, "error", err)
	}
}

func (c *Chief) run(ctx context.Context) {
	defer c.wg.Done()

	slog.Info("Chief started", "agent_id", c.id)

	lastHeartbeat := time.Time{}
	for {
		select {
		case <-c.stopCh:
			slog.Info("Chief shutting down", "agent_id", c.id)
			return
		case <-ctx.Done():
			return
		default:
		}

		c.Sweep(ctx)

		if time.Since(lastHeartbeat) >= c.config.HeartbeatInterval {
			if err := c.registry.Heartbeat(ctx, c.id, models.AgentWorking); err != nil {
				slog.Error("Chief heartbeat failed", "error", err)
			}
			lastHeartbeat = time.Now()
		}

		select {
		case <-c.stopCh:
		case <-ctx.Done():
		case <-time.After(c.config.SweepInterval):
		}
	}
}

// Sweep runs one orchestration pass. The order is fixed: human prompts
// first, then admission, advancement, and recovery. Per-story errors are
// logged and skipped; a sweep never aborts on one bad story.
func (c *Chief) Sweep(ctx context.Context) {
	if n, err := c.processHumanPrompts(ctx); err != nil {
		slog.Error("Prompt processing failed", "error", err)
	} else if n > 0 {
		slog.Info("Processed human prompts", "count", n)
	}

	if n, err := c.admitDetections(ctx); err != nil {
		slog.Error("Admission failed", "error", err)
	} else if n > 0 {
		slog.Info("Created story pipelines", "count", n)
	}

	if n, err := c.advanceStories(ctx); err != nil {
		slog.Error("Advancement failed", "error", err)
	} else if n > 0 {
		slog.Info("Advanced stories", "count", n)
	}

	if n, err := c.recoverStalled(ctx); err != nil {
		slog.Error("Recovery failed", "error", err)
	} else if n > 0 {
		slog.Warn("Recovered stalled tasks", "count", n)
	}

	if n, err := c.markStaleAgents(ctx); err != nil {
		slog.Error("Stale agent check failed", "error", err)
	} else if n > 0 {
		slog.Warn("Marked stale agents offline", "count", n)
	}
}

// markStaleAgents flips agents whose heartbeat has lapsed for three intervals
// to offline. Their claimed tasks are reclaimed separately by the stall lease.
func (c *Chief) markStaleAgents(ctx context.Context) (int, error) {
	if c.config.HeartbeatInterval <= 0 {
		return 0, nil
	}
	stale, err := c.registry.ListStale(ctx, 3*c.config.HeartbeatInterval)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, a := range stale {
		if err := c.registry.Heartbeat(ctx, a.ID, models.AgentOffline); err != nil {
			slog.Error("Failed to mark agent offline", "agent_id", a.ID, "error", err)
			continue
		}
		slog.Warn("Agent heartbeat lapsed", "agent_id", a.ID, "role", a.Role, "last_heartbeat", a.LastHeartbeat)
		count++
	}
	return count, nil
}
