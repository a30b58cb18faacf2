// Package scout implements story detection: it scans feed and social
// sources, scores candidates for newsworthiness, gates them through the
// vector dedup memory, and emits story.detected events. The scout never
// consumes queue tasks; it only produces detections for the chief to admit.
package scout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/ingestion"
	"github.com/newstown/newstown/pkg/memory"
	"github.com/newstown/newstown/pkg/models"
)

// Config tunes the scan loop.
type Config struct {
	ScanInterval      time.Duration
	HeartbeatInterval time.Duration
	DedupThreshold    float64
}

// DefaultConfig returns the standard scout timings and thresholds.
func DefaultConfig() Config {
	return Config{
		ScanInterval:      5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		DedupThreshold:    0.85,
	}
}

// Scout runs the detection loop.
type Scout struct {
	id       uuid.UUID
	sources  []Source
	embedder ingestion.Embedder
	memory   *memory.Store
	events   *eventlog.Store
	registry *agent.Registry
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scout over the given sources.
func New(sources []Source, embedder ingestion.Embedder, mem *memory.Store, events *eventlog.Store, registry *agent.Registry, cfg Config) *Scout {
	return &Scout{
		id:       uuid.New(),
		sources:  sources,
		embedder: embedder,
		memory:   mem,
		events:   events,
		registry: registry,
		config:   cfg,
		stopCh:   make(chan struct{}),
	}
}

// ID returns the scout's agent id.
func (s *Scout) ID() uuid.UUID { return s.id }

// Start registers the scout and begins scanning.
func (s *Scout) Start(ctx context.Context) error {
	if err := s.registry.Register(ctx, s.id, models.RoleScout); err != nil {
		return err
	}
	s.wg.Add(2)
	go s.run(ctx)
	go s.runHeartbeat(ctx)
	return nil
}

// Stop signals the loops to exit and waits for them.
func (s *Scout) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.registry.Heartbeat(ctx, s.id, models.AgentOffline); err != nil {
		slog.Error("Failed to record scout offline", "agent_id", s.id, "error", err)
	}
}

func (s *Scout) run(ctx context.Context) {
	defer s.wg.Done()

	slog.Info("Scout started", "agent_id", s.id, "source_count", len(s.sources))

	// First scan runs immediately; the ticker paces the rest.
	s.ScanAll(ctx)

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			slog.Info("Scout shutting down", "agent_id", s.id)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanAll(ctx)
		}
	}
}

func (s *Scout) runHeartbeat(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.registry.Heartbeat(ctx, s.id, models.AgentWorking); err != nil {
				slog.Error("Scout heartbeat failed", "agent_id", s.id, "error", err)
			}
		}
	}
}

// ScanAll runs one pass over every source. Source failures are logged and
// do not stop the pass.
func (s *Scout) ScanAll(ctx context.Context) {
	for _, src := range s.sources {
		if err := s.scanSource(ctx, src); err != nil {
			slog.Error("Source scan failed", "source", src.Name(), "error", err)
		}
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Scout) scanSource(ctx context.Context, src Source) error {
	slog.Info("Scanning source", "source", src.Name())

	signals, err := src.Fetch(ctx)
	if err != nil {
		return err
	}

	for _, sig := range signals {
		score := Newsworthiness(sig)
		if score < src.MinScore() {
			continue
		}
		if err := s.processSignal(ctx, sig, score); err != nil {
			slog.Error("Signal processing failed",
				"source", src.Name(),
				"title", sig.Title,
				"error", err)
		}
	}
	return nil
}

// processSignal runs the dedup gate and emits the detection. A match at or
// above the threshold is a continuation: the detection lands on the existing
// story and no memory row is written. A novel signal mints a story id and
// seeds the memory so later signals collapse onto it.
func (s *Scout) processSignal(ctx context.Context, sig Signal, score float64) error {
	content := sig.Title + ". " + sig.Summary

	var (
		embedding []float32
		matches   []models.SimilarStory
	)
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		// Detection still goes through without dedup; losing a signal is
		// worse than a possible duplicate story.
		slog.Error("Embedding generation failed", "title", sig.Title, "error", err)
	} else {
		matches, err = s.memory.FindSimilar(ctx, embedding, s.config.DedupThreshold, 1)
		if err != nil {
			slog.Error("Dedup lookup failed", "title", sig.Title, "error", err)
		}
	}

	var storyID uuid.UUID
	isDuplicate := len(matches) > 0
	if isDuplicate {
		storyID = matches[0].StoryID
		slog.Info("Duplicate story detected",
			"new_title", sig.Title,
			"existing_story_id", storyID,
			"similarity", matches[0].Similarity)
	} else {
		storyID = uuid.New()
	}

	payload := models.Payload{
		"source":       sig.Source,
		"title":        sig.Title,
		"url":          sig.URL,
		"summary":      sig.Summary,
		"score":        score,
		"is_duplicate": isDuplicate,
	}
	if sig.Published != nil {
		payload["published"] = sig.Published.Format(time.RFC3339)
	}

	agentID := s.id
	if _, err := s.events.Append(ctx, storyID, models.EventStoryDetected, payload, &agentID); err != nil {
		return err
	}

	if !isDuplicate && embedding != nil {
		_, err := s.memory.Add(ctx, storyID, content, embedding, "summary", models.Payload{
			"source": sig.Source,
			"url":    sig.URL,
		})
		if err != nil {
			slog.Error("Memory write failed", "story_id", storyID, "error", err)
		}
		slog.Info("New story detected", "story_id", storyID, "title", sig.Title, "score", score)
	}
	return nil
}

// Newsworthiness scores a signal from structural cues: having both a title
// and summary, freshness, a link, and enough summary text to suggest
// substance. The terms sum to at most 0.9.
func Newsworthiness(sig Signal) float64 {
	score := 0.0
	if sig.Title != "" && sig.Summary != "" {
		score += 0.3
	}
	if sig.Published == nil || time.Since(*sig.Published) < 24*time.Hour {
		score += 0.2
	}
	if sig.URL != "" {
		score += 0.2
	}
	if len(sig.Summary) > 200 {
		score += 0.2
	}
	return min(score, 1.0)
}
