// News Town server — runs the chief orchestrator, the scout, the worker
// fleet, and the HTTP API over a shared Postgres coordination store.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/newstown/newstown/pkg/agent"
	"github.com/newstown/newstown/pkg/api"
	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/chief"
	"github.com/newstown/newstown/pkg/config"
	"github.com/newstown/newstown/pkg/database"
	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/ingestion"
	"github.com/newstown/newstown/pkg/llm"
	"github.com/newstown/newstown/pkg/memory"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/oversight"
	"github.com/newstown/newstown/pkg/publishing"
	"github.com/newstown/newstown/pkg/scout"
	"github.com/newstown/newstown/pkg/taskqueue"
	"github.com/newstown/newstown/pkg/version"
	"github.com/newstown/newstown/pkg/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg := config.Load()
	slog.Info("Starting News Town", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx := context.Background()

	// 1. Database (runs migrations on connect)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Invalid database configuration", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 2. Stores
	events := eventlog.New(dbClient)
	queue := taskqueue.New(dbClient)
	mem := memory.New(dbClient)
	articleStore := articles.New(dbClient)
	oversightStore := oversight.New(dbClient)
	pubStore := publishing.NewStore(dbClient)
	registry := agent.NewRegistry(dbClient)

	// 3. External services
	chatClient, err := buildChatClient(cfg)
	if err != nil {
		slog.Error("Failed to initialize chat client", "error", err)
		os.Exit(1)
	}

	embedder, err := ingestion.NewOpenAIEmbedder(cfg.OpenAIAPIKey)
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	searcher := ingestion.NewFallbackSearcher(
		ingestion.NewBraveProvider(cfg.BraveAPIKey),
		ingestion.NewDuckDuckGoProvider(),
	)

	// 4. Publishing channels
	rssChannel := publishing.NewRSSChannel(articleStore,
		"News Town",
		"https://newstown.example.com",
		"Multi-agent news reporting system")
	channels := []publishing.Channel{rssChannel, publishing.LogChannel{}}

	// 5. Worker fleet
	runtimeCfg := agent.DefaultConfig()
	runtimeCfg.PollInterval = cfg.PollInterval
	runtimeCfg.HeartbeatInterval = cfg.HeartbeatInterval

	var fleet []*agent.Runtime
	reporter := workers.NewReporter(chatClient, searcher, embedder, mem, events, oversightStore)
	for range cfg.ReporterCount {
		fleet = append(fleet, agent.NewRuntime(models.RoleReporter, registry, queue, events, reporter, runtimeCfg))
	}
	editor := workers.NewEditor(chatClient, searcher, articleStore)
	for range cfg.EditorCount {
		fleet = append(fleet, agent.NewRuntime(models.RoleEditor, registry, queue, events, editor, runtimeCfg))
	}
	publisher := workers.NewPublisher(articleStore, pubStore, events, channels...)
	for range cfg.PublisherCount {
		fleet = append(fleet, agent.NewRuntime(models.RolePublisher, registry, queue, events, publisher, runtimeCfg))
	}
	if cfg.MaxConcurrentAgents > 0 && len(fleet) > cfg.MaxConcurrentAgents {
		slog.Warn("Worker fleet capped",
			"configured", len(fleet),
			"max_concurrent_agents", cfg.MaxConcurrentAgents)
		fleet = fleet[:cfg.MaxConcurrentAgents]
	}

	for _, rt := range fleet {
		if err := rt.Start(ctx); err != nil {
			slog.Error("Failed to start worker", "role", rt.Role(), "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Worker fleet started", "workers", len(fleet))

	// 6. Chief
	chiefCfg := chief.DefaultConfig()
	chiefCfg.SweepInterval = cfg.PollInterval
	chiefCfg.HeartbeatInterval = cfg.HeartbeatInterval
	chiefCfg.MinNewsworthiness = cfg.MinNewsworthiness
	chiefCfg.MaxRevisions = cfg.MaxRevisions
	chiefCfg.StalledLease = cfg.StalledLease
	chiefCfg.DefaultChannels = cfg.DefaultChannels

	orchestrator := chief.New(queue, events, articleStore, oversightStore, registry, chiefCfg)
	if err := orchestrator.Start(ctx); err != nil {
		slog.Error("Failed to start chief", "error", err)
		os.Exit(1)
	}

	// 7. Scout
	var sources []scout.Source
	for _, feedURL := range cfg.Feeds {
		sources = append(sources, scout.NewFeedSource(feedURL, cfg.ScoutThreshold))
	}
	if cfg.SocialEnabled {
		sources = append(sources, scout.NewSocialSource(searcher, cfg.SocialQueries, cfg.SocialThreshold))
	}

	var theScout *scout.Scout
	if len(sources) > 0 {
		scoutCfg := scout.DefaultConfig()
		scoutCfg.ScanInterval = cfg.ScanInterval
		scoutCfg.HeartbeatInterval = cfg.HeartbeatInterval
		scoutCfg.DedupThreshold = cfg.DedupThreshold

		theScout = scout.New(sources, embedder, mem, events, registry, scoutCfg)
		if err := theScout.Start(ctx); err != nil {
			slog.Error("Failed to start scout", "error", err)
			os.Exit(1)
		}
		slog.Info("Scout started", "sources", len(sources))
	} else {
		slog.Warn("No scout sources configured, detection disabled")
	}

	// 8. HTTP server
	server := api.NewServer(dbClient, events, queue, articleStore, oversightStore, registry, rssChannel)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("News Town started successfully")

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: detection first, then orchestration, then the
	// fleet, then the HTTP surface.
	if theScout != nil {
		theScout.Stop()
		slog.Info("Scout stopped")
	}
	orchestrator.Stop()
	slog.Info("Chief stopped")

	done := make(chan struct{})
	go func() {
		for _, rt := range fleet {
			rt.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker fleet stopped gracefully")
	case <-time.After(runtimeCfg.TaskTimeout):
		slog.Warn("Shutdown timeout exceeded, stalled tasks will be lease-recovered")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// buildChatClient selects the local OpenAI-compatible provider when a base
// URL is configured, Anthropic otherwise.
func buildChatClient(cfg *config.Config) (llm.ChatClient, error) {
	if cfg.LocalLLMBaseURL != "" {
		slog.Info("Using local LLM provider", "base_url", cfg.LocalLLMBaseURL)
		return llm.NewLocalClient(cfg.LocalLLMBaseURL, cfg.LocalLLMModel)
	}
	slog.Info("Using Anthropic LLM provider", "model", cfg.ClaudeModel)
	return llm.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.ClaudeModel)
}
