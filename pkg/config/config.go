// Package config loads the newsroom settings from the environment. A .env
// file, when present, is folded in by the caller before Load runs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	HTTPPort string

	// LLM providers. When LocalLLMBaseURL is set the local provider is used
	// for chat instead of Anthropic.
	AnthropicAPIKey string
	ClaudeModel     string
	LocalLLMBaseURL string
	LocalLLMModel   string

	// Embeddings and search.
	OpenAIAPIKey string
	BraveAPIKey  string

	// Scout sources.
	Feeds         []string
	SocialQueries []string
	SocialEnabled bool

	// Pipeline policy.
	MinNewsworthiness float64
	ScoutThreshold    float64
	SocialThreshold   float64
	DedupThreshold    float64
	MaxRevisions      int
	DefaultChannels   []string

	// Loop timings.
	StalledLease      time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ScanInterval      time.Duration

	// Fleet sizing. MaxConcurrentAgents caps the whole fleet regardless of
	// the per-role counts.
	ReporterCount       int
	EditorCount         int
	PublisherCount      int
	MaxConcurrentAgents int
}

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:     getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		LocalLLMBaseURL: os.Getenv("LOCAL_LLM_BASE_URL"),
		LocalLLMModel:   getEnv("LOCAL_LLM_MODEL", "llama3"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		BraveAPIKey:  os.Getenv("BRAVE_API_KEY"),

		Feeds:         getList("RSS_FEEDS", nil),
		SocialQueries: getList("SOCIAL_QUERIES", nil),
		SocialEnabled: getBool("SOCIAL_ENABLED", false),

		MinNewsworthiness: getFloat("MIN_NEWSWORTHINESS_SCORE", 0.6),
		ScoutThreshold:    getFloat("SCOUT_SCORE_THRESHOLD", 0.6),
		SocialThreshold:   getFloat("SOCIAL_SCORE_THRESHOLD", 0.7),
		DedupThreshold:    getFloat("DEDUP_SIMILARITY_THRESHOLD", 0.85),
		MaxRevisions:      getInt("MAX_REVISIONS", 3),
		DefaultChannels:   getList("DEFAULT_CHANNELS", []string{"rss"}),

		StalledLease:      getSeconds("STALLED_LEASE_SECONDS", 1800),
		PollInterval:      getSeconds("TASK_POLL_INTERVAL_SECONDS", 5),
		HeartbeatInterval: getSeconds("AGENT_HEARTBEAT_INTERVAL_SECONDS", 30),
		ScanInterval:      getSeconds("SCAN_INTERVAL_SECONDS", 300),

		ReporterCount:       getInt("REPORTER_COUNT", 2),
		EditorCount:         getInt("EDITOR_COUNT", 1),
		PublisherCount:      getInt("PUBLISHER_COUNT", 1),
		MaxConcurrentAgents: getInt("MAX_CONCURRENT_AGENTS", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
