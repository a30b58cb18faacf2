package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/taskqueue"
)

// Handler executes one claimed task and returns the output to store with it.
// A returned error fails the task; the runtime handles the bookkeeping.
type Handler interface {
	HandleTask(ctx context.Context, task *models.Task) (models.Payload, error)
}

// Config tunes the runtime loop.
type Config struct {
	PollInterval      time.Duration
	PollJitter        time.Duration
	HeartbeatInterval time.Duration
	TaskTimeout       time.Duration
}

// DefaultConfig returns the standard loop timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      5 * time.Second,
		PollJitter:        time.Second,
		HeartbeatInterval: 30 * time.Second,
		TaskTimeout:       10 * time.Minute,
	}
}

// Runtime is the shared worker loop. Role-specific behavior lives entirely
// in the Handler; the runtime owns claiming, heartbeats, terminal task
// transitions, and the task lifecycle events.
type Runtime struct {
	id       uuid.UUID
	role     models.Role
	registry *Registry
	queue    *taskqueue.Queue
	events   *eventlog.Store
	handler  Handler
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	status         models.AgentStatus
	currentTaskID  uuid.UUID
	tasksProcessed int
	lastActivity   time.Time
}

// NewRuntime creates a worker runtime for the given role.
func NewRuntime(role models.Role, registry *Registry, queue *taskqueue.Queue, events *eventlog.Store, handler Handler, cfg Config) *Runtime {
	return &Runtime{
		id:           uuid.New(),
		role:         role,
		registry:     registry,
		queue:        queue,
		events:       events,
		handler:      handler,
		config:       cfg,
		stopCh:       make(chan struct{}),
		status:       models.AgentIdle,
		lastActivity: time.Now(),
	}
}

// ID returns the runtime's agent id.
func (r *Runtime) ID() uuid.UUID { return r.id }

// Role returns the runtime's role.
func (r *Runtime) Role() models.Role { return r.role }

// Start registers the agent and begins the poll and heartbeat loops.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.registry.Register(ctx, r.id, r.role); err != nil {
		return err
	}

	r.wg.Add(2)
	go r.run(ctx)
	go r.runHeartbeat(ctx)
	return nil
}

// Stop signals the loops to exit, waits for them, and records the agent
// offline. Safe to call multiple times.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.registry.Heartbeat(ctx, r.id, models.AgentOffline); err != nil {
		slog.Error("Failed to record agent offline", "agent_id", r.id, "error", err)
	}
}

// Health is a point-in-time snapshot of the runtime.
type Health struct {
	ID             uuid.UUID          `json:"id"`
	Role           models.Role        `json:"role"`
	Status         models.AgentStatus `json:"status"`
	CurrentTaskID  string             `json:"current_task_id,omitempty"`
	TasksProcessed int                `json:"tasks_processed"`
	LastActivity   time.Time          `json:"last_activity"`
}

// Health returns the current runtime health.
func (r *Runtime) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := Health{
		ID:             r.id,
		Role:           r.role,
		Status:         r.status,
		TasksProcessed: r.tasksProcessed,
		LastActivity:   r.lastActivity,
	}
	if r.currentTaskID != uuid.Nil {
		h.CurrentTaskID = r.currentTaskID.String()
	}
	return h
}

func (r *Runtime) run(ctx context.Context) {
	defer r.wg.Done()

	log := slog.With("agent_id", r.id, "role", r.role)
	log.Info("Agent started")

	for {
		select {
		case <-r.stopCh:
			log.Info("Agent shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, agent shutting down")
			return
		default:
			if err := r.pollAndProcess(ctx); err != nil {
				if errors.Is(err, taskqueue.ErrNoTasks) {
					r.sleep(r.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				r.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (r *Runtime) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter so a fleet of workers
// does not claim in lockstep.
func (r *Runtime) pollInterval() time.Duration {
	base := r.config.PollInterval
	jitter := r.config.PollJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (r *Runtime) pollAndProcess(ctx context.Context) error {
	task, err := r.queue.Claim(ctx, r.id, r.role)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "agent_id", r.id, "stage", task.Stage)
	log.Info("Task claimed")

	r.setStatus(models.AgentWorking, task.ID)
	defer r.setStatus(models.AgentIdle, uuid.Nil)

	taskCtx, cancel := context.WithTimeout(ctx, r.config.TaskTimeout)
	defer cancel()

	output, handleErr := r.handler.HandleTask(taskCtx, task)
	if handleErr == nil && taskCtx.Err() != nil {
		handleErr = taskCtx.Err()
	}

	// Terminal bookkeeping uses a fresh context: the task context may
	// already be cancelled and the result must still be recorded.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer finishCancel()

	if handleErr != nil {
		log.Error("Task execution failed", "error", handleErr)
		if err := r.queue.Fail(finishCtx, task.ID, handleErr.Error()); err != nil {
			return fmt.Errorf("recording task failure: %w", err)
		}
		r.appendTaskEvent(finishCtx, task, models.TaskFailedEvent(task.Stage), models.Payload{
			"task_id": task.ID.String(),
			"error":   handleErr.Error(),
		})
	} else {
		if err := r.queue.Complete(finishCtx, task.ID, output); err != nil {
			return fmt.Errorf("recording task completion: %w", err)
		}
		r.appendTaskEvent(finishCtx, task, models.TaskCompletedEvent(task.Stage), models.Payload{
			"task_id": task.ID.String(),
			"output":  output,
		})
	}

	r.mu.Lock()
	r.tasksProcessed++
	r.mu.Unlock()

	log.Info("Task processing complete", "failed", handleErr != nil)
	return nil
}

// appendTaskEvent records a task lifecycle event. Event append failures are
// logged, not propagated: the task row already holds the terminal state.
func (r *Runtime) appendTaskEvent(ctx context.Context, task *models.Task, eventType string, payload models.Payload) {
	agentID := r.id
	if _, err := r.events.Append(ctx, task.StoryID, eventType, payload, &agentID); err != nil {
		slog.Error("Failed to append task event",
			"task_id", task.ID,
			"event_type", eventType,
			"error", err)
	}
}

func (r *Runtime) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			status := r.status
			r.mu.RUnlock()
			if err := r.registry.Heartbeat(ctx, r.id, status); err != nil {
				slog.Error("Heartbeat failed", "agent_id", r.id, "error", err)
			}
		}
	}
}

func (r *Runtime) setStatus(status models.AgentStatus, taskID uuid.UUID) {
	r.mu.Lock()
	r.status = status
	r.currentTaskID = taskID
	r.lastActivity = time.Now()
	r.mu.Unlock()
}
