package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"triage-intake/internal/logger"
)

const (
	defaultCompatibleBaseURL = "https://api.groq.com/openai/v1/"
	defaultCompatibleModel   = "llama-3.1-8b-instant"
)

// CompatibleClient talks to any service exposing the OpenAI chat completions
// API under a different base URL.  Groq is the default.
type CompatibleClient struct {
	cfg Config

	mu     sync.Mutex
	client *openai.Client
}

// NewCompatibleClient constructs a completer for an OpenAI-compatible API.
func NewCompatibleClient(cfg Config) *CompatibleClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCompatibleBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultCompatibleModel
	}
	return &CompatibleClient{cfg: cfg}
}

func (c *CompatibleClient) initializeClientIfNeeded() (*openai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	options := []option.RequestOption{
		option.WithAPIKey(c.cfg.APIKey),
		option.WithBaseURL(c.cfg.BaseURL),
	}
	if c.cfg.Timeout > 0 {
		options = append(options, option.WithHTTPClient(&http.Client{Timeout: c.cfg.Timeout}))
	}
	client := openai.NewClient(options...)
	c.client = &client
	logger.Debug("Compatible client initialized", "base_url", c.cfg.BaseURL, "model", c.cfg.Model)
	return c.client, nil
}

// Complete sends one chat completion request.
func (c *CompatibleClient) Complete(ctx context.Context, system string, turns []Message, opts Options) (string, error) {
	client, err := c.initializeClientIfNeeded()
	if err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, m := range turns {
		switch normalizeRole(m.Role) {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    messages,
		Temperature: openai.Float(float64(opts.Temperature)),
	}
	if opts.Structured {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	logger.Debug("Sending compatible request", "model", c.cfg.Model, "messages", len(messages), "structured", opts.Structured)
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("compatible request failed: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	content := completion.Choices[0].Message.Content
	logger.Debug("Compatible response received", "content_length", len(content))
	return content, nil
}
