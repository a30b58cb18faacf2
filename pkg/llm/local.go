package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// LocalClient talks to an OpenAI-compatible endpoint, typically a local
// model runner. Per-request model overrides are ignored: the configured
// local model serves everything.
type LocalClient struct {
	client openai.Client
	model  string
}

// NewLocalClient creates a client for baseURL. Local runners usually ignore
// the API key but the SDK requires one.
func NewLocalClient(baseURL, model string) (*LocalClient, error) {
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if model == "" {
		return nil, errors.New("local model name is required")
	}
	return &LocalClient{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey("sk-local-key"),
		),
		model: model,
	}, nil
}

// Generate implements ChatClient.
func (c *LocalClient) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("messages are required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("local chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
