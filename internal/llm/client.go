// Package llm adapts hosted text-completion services to the single Completer
// contract the intake engine consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Roles accepted in a Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured is returned when a provider has no API key.
	ErrNotConfigured = errors.New("llm: provider not configured")
	// ErrEmptyResponse is returned when the provider answers with no content.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// Message is a minimal chat message.  Role must be one of RoleSystem,
// RoleUser or RoleAssistant; anything else is coerced to RoleUser.
type Message struct {
	Role    string
	Content string
}

// Options tune a single completion request.  Structured asks the provider
// for a JSON object instead of free text.
type Options struct {
	Temperature float32
	Structured  bool
}

// Completer is the external completion capability: one blocking call that
// turns a system instruction plus conversation turns into text.
type Completer interface {
	Complete(ctx context.Context, system string, turns []Message, opts Options) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// New constructs the Completer named by cfg.Provider.
func New(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "groq":
		return NewCompatibleClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "gemini":
		return NewGeminiClient(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

func normalizeRole(role string) string {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return role
	default:
		return RoleUser
	}
}

// structuredSuffix is appended to the system instruction for providers that
// have no native JSON mode.
const structuredSuffix = "\n\nRespond with a single JSON object and nothing else."
