package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"triage-intake/internal/logger"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// AnthropicClient calls the Anthropic Messages API.  It has no JSON mode, so
// structured requests carry an extra instruction and rely on response repair.
type AnthropicClient struct {
	cfg Config

	mu     sync.Mutex
	client *anthropic.Client
}

// NewAnthropicClient constructs an Anthropic-backed completer.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	return &AnthropicClient{cfg: cfg}
}

func (c *AnthropicClient) initializeClientIfNeeded() (*anthropic.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	options := []option.RequestOption{option.WithAPIKey(c.cfg.APIKey)}
	if c.cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(c.cfg.BaseURL))
	}
	if c.cfg.Timeout > 0 {
		options = append(options, option.WithHTTPClient(&http.Client{Timeout: c.cfg.Timeout}))
	}
	client := anthropic.NewClient(options...)
	c.client = &client
	logger.Debug("Anthropic client initialized", "provider", "anthropic", "model", c.cfg.Model)
	return c.client, nil
}

// Complete sends one Messages API request and concatenates the text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, system string, turns []Message, opts Options) (string, error) {
	client, err := c.initializeClientIfNeeded()
	if err != nil {
		return "", err
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		switch normalizeRole(m.Role) {
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleSystem:
			system += "\n\n" + m.Content
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if opts.Structured {
		system += structuredSuffix
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   defaultAnthropicMaxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(float64(opts.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	logger.Debug("Sending Anthropic request", "model", c.cfg.Model, "messages", len(messages), "structured", opts.Structured)
	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}
	if content.Len() == 0 {
		return "", ErrEmptyResponse
	}
	logger.Debug("Anthropic response received", "content_length", content.Len())
	return content.String(), nil
}
