package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"triage-intake/internal/llm"
	"triage-intake/pkg"
)

// phraseCue is the only user turn sent with the phrasing request; the
// history travels inside the system prompt.
const phraseCue = "Write the reply to the patient now."

// Phraser turns a goal into the text shown to the patient.
type Phraser struct {
	LLM           llm.Completer
	Prompt        string
	Temperature   float32
	HistoryWindow int
}

// NewPhraser constructs a Phraser.
func NewPhraser(c llm.Completer, prompt string, temperature float32, window int) *Phraser {
	return &Phraser{LLM: c, Prompt: prompt, Temperature: temperature, HistoryWindow: window}
}

// Phrase issues one free-text completion for goal and returns the raw
// answer.  The full record is always embedded so a summary never omits
// earlier symptoms.  The call is not retried.
func (p *Phraser) Phrase(ctx context.Context, goal Goal, rec pkg.SymptomRecord, history []Turn) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	system := render(p.Prompt,
		phGoal, goal.Instruction,
		phCurrentData, string(data),
		phChatHistory, FormatHistory(history, p.HistoryWindow),
	)

	raw, err := p.LLM.Complete(ctx, system, userTurn(phraseCue), llm.Options{
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("phrase: %w", err)
	}
	return strings.TrimSpace(raw), nil
}
