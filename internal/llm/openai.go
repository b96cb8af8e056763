package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"chesscoach/internal/logging"
	"chesscoach/internal/types"
)

// OpenAIClient implements Client over the OpenAI chat completion API. It
// also serves any OpenAI-compatible endpoint via BaseURL.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Generate sends the turn sequence as a chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, turns []types.Turn) (string, error) {
	logging.APIDebug("[OpenAI] Generate: model=%s turns=%d", c.model, len(turns))

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		logging.APIError("[OpenAI] Generate failed: %v", err)
		return "", types.UpstreamError(fmt.Errorf("chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", types.UpstreamError(fmt.Errorf("no completion returned"))
	}

	logging.API("[OpenAI] Generate complete: %d prompt + %d completion tokens",
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
