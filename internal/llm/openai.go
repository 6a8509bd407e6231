package llm

import (
	"context"
	"net/http"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"triage-intake/internal/logger"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient calls the OpenAI chat completion API.  The SDK client is
// created on first use so a missing key only fails the requests that need it.
type OpenAIClient struct {
	cfg Config

	mu     sync.Mutex
	client *openai.Client
}

// NewOpenAIClient constructs an OpenAI-backed completer.  An empty model
// falls back to gpt-4o-mini.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIClient{cfg: cfg}
}

func (c *OpenAIClient) initializeClientIfNeeded() (*openai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	config := openai.DefaultConfig(c.cfg.APIKey)
	if c.cfg.BaseURL != "" {
		config.BaseURL = c.cfg.BaseURL
	}
	if c.cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	c.client = openai.NewClientWithConfig(config)
	logger.Debug("OpenAI client initialized", "provider", "openai", "model", c.cfg.Model)
	return c.client, nil
}

// Complete sends the system instruction and turns to the chat completion API
// and returns the first choice.  Structured requests use JSON-object mode.
func (c *OpenAIClient) Complete(ctx context.Context, system string, turns []Message, opts Options) (string, error) {
	client, err := c.initializeClientIfNeeded()
	if err != nil {
		return "", err
	}

	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range turns {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: normalizeRole(m.Role), Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    oaMsgs,
		Temperature: opts.Temperature,
	}
	if opts.Structured {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	logger.Debug("Sending OpenAI request", "model", c.cfg.Model, "messages", len(oaMsgs), "structured", opts.Structured)
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	content := resp.Choices[0].Message.Content
	logger.Debug("OpenAI response received", "content_length", len(content))
	return content, nil
}
