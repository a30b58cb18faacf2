// Package llm provides the chat abstraction the worker agents reason with.
// Two providers are supported: Anthropic for production and any
// OpenAI-compatible endpoint for local development.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Message is one turn of a conversation. Role is "user" or "assistant";
// the system prompt travels separately in Request.
type Message struct {
	Role    string
	Content string
}

// Request is a provider-neutral chat completion request.
type Request struct {
	System      string
	Messages    []Message
	Model       string // optional override of the provider default
	MaxTokens   int
	Temperature float64
}

// ChatClient generates a completion for a request.
type ChatClient interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ErrEmptyResponse is returned when the provider answers with no text.
var ErrEmptyResponse = errors.New("llm returned no content")

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

// UserRequest builds a single-turn request with the common defaults.
func UserRequest(system, user string) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: "user", Content: user}},
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}
}

// ExtractJSON strips markdown code fences around a JSON answer. Models asked
// for JSON frequently wrap it in ```json blocks; everything outside the
// outermost braces or brackets is discarded.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if after, ok := strings.CutPrefix(text, "```json"); ok {
		text = after
	} else if after, ok := strings.CutPrefix(text, "```"); ok {
		text = after
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text
	}
	return text[start : end+1]
}
