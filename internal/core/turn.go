package core

import (
	"fmt"
	"strings"

	"triage-intake/internal/llm"
	"triage-intake/pkg"
)

// Turn is one entry of the conversation history handed to the engine.
type Turn struct {
	Role pkg.MessageRole `json:"role"`
	Text string          `json:"text"`
}

// TurnsFromMessages converts a stored transcript into engine turns.
func TurnsFromMessages(msgs []pkg.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Text: m.Content})
	}
	return turns
}

// LatestUserUtterance returns the trimmed text of the most recent user turn.
func LatestUserUtterance(history []Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == pkg.RoleUser {
			return strings.TrimSpace(history[i].Text)
		}
	}
	return ""
}

// FormatHistory renders the last window turns as role-prefixed lines.
func FormatHistory(history []Turn, window int) string {
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, strings.TrimSpace(t.Text)))
	}
	return strings.Join(lines, "\n")
}

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}
