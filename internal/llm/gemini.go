package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"triage-intake/internal/logger"
)

const defaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	cfg Config

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient constructs a Gemini-backed completer.
func NewGeminiClient(cfg Config) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	return &GeminiClient{cfg: cfg}
}

func (c *GeminiClient) initializeClientIfNeeded(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	clientConfig := &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	c.client = client
	logger.Debug("Gemini client initialized", "provider", "gemini", "model", c.cfg.Model)
	return c.client, nil
}

// Complete sends one GenerateContent request.  Structured requests ask for an
// application/json response.
func (c *GeminiClient) Complete(ctx context.Context, system string, turns []Message, opts Options) (string, error) {
	client, err := c.initializeClientIfNeeded(ctx)
	if err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := "user"
		text := m.Content
		switch normalizeRole(m.Role) {
		case RoleAssistant:
			// Gemini uses "model" instead of "assistant"
			role = "model"
		case RoleSystem:
			text = "System: " + text
		}
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}, Role: role})
	}

	temperature := opts.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Structured {
		config.ResponseMIMEType = "application/json"
	}

	logger.Debug("Sending Gemini request", "model", c.cfg.Model, "contents", len(contents), "structured", opts.Structured)
	result, err := client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var content strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Thought || part.Text == "" {
				continue
			}
			content.WriteString(part.Text)
		}
		break
	}
	if content.Len() == 0 {
		return "", ErrEmptyResponse
	}
	logger.Debug("Gemini response received", "content_length", content.Len())
	return content.String(), nil
}
