package core

// prompts.go defines the English prompts used by the extractor and the
// phraser, plus the fixed messages the service sends without a completion
// call.  Any of them can be overridden from a YAML file.

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholders substituted into the templates.
const (
	phCurrentState = "{current_state}"
	phUserMessage  = "{user_message}"
	phGoal         = "{goal_instruction}"
	phCurrentData  = "{current_data}"
	phChatHistory  = "{chat_history}"
)

const (
	// ExtractPrompt instructs the capability to update the symptom list from
	// the latest patient message and to return JSON only.
	ExtractPrompt = `You are a medical data extractor. Your ONLY job is to update the list of symptoms based on the user's latest message.

CURRENT STATE:
{current_state}

USER MESSAGE:
"{user_message}"

RULES:
1. If the user mentions a NEW symptom, add it to the end of the list with null details.
2. If the user provides a detail, fill the most relevant empty field (severity, duration or frequency) of the relevant symptom.
3. HANDLING NUMBERS: if the user says "5" or "8/10", set severity="5/10" or "8/10".
4. MAP VAGUE INPUTS: "hurts a lot" -> severity="Severe", "a little" -> severity="Mild".
5. DO NOT change the name of an existing symptom and DO NOT remove symptoms.
6. If the user says "yes" (to having more symptoms) but does not name it, DO NOT change the list.

OUTPUT JSON ONLY:
{"symptoms": [{"symptom": "nausea", "severity": "mild", "duration": null, "frequency": null}]}`

	// PhrasePrompt turns a goal into a single patient-facing reply.
	PhrasePrompt = `You are a medical triage assistant talking to a patient.

GOAL: {goal_instruction}

CURRENT COLLECTED DATA:
{current_data}

HISTORY:
{chat_history}

INSTRUCTIONS:
1. Achieve the GOAL efficiently.
2. Be polite but direct. Ask about one thing only.
3. Use the exact symptom name provided in the GOAL.
4. When summarizing, READ FROM "CURRENT COLLECTED DATA" to include ALL symptoms, not just recent ones.

Generate a short, clear text reply.`

	// FirstMessage greets the patient when a session opens.
	FirstMessage = "Hello! I will ask a few short questions before your appointment. What is the main symptom that brings you in today?"

	// ApologyMessage is returned when a completion call fails.
	ApologyMessage = "Sorry, I had trouble processing that. Could you please say it again?"

	// CapMessage is sent when the patient exceeds the message cap for a
	// session.
	CapMessage = "We have reached the message limit for this visit. Thank you for your answers, the doctor will review them."
)

// Prompts groups every template and fixed message.  It is loaded once and
// passed to constructors.
type Prompts struct {
	Extract      string `yaml:"extract"`
	Phrase       string `yaml:"phrase"`
	FirstMessage string `yaml:"first_message"`
	Apology      string `yaml:"apology"`
	CapMessage   string `yaml:"cap_message"`
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	return Prompts{
		Extract:      ExtractPrompt,
		Phrase:       PhrasePrompt,
		FirstMessage: FirstMessage,
		Apology:      ApologyMessage,
		CapMessage:   CapMessage,
	}
}

// LoadPrompts reads overrides from a YAML file.  Keys absent from the file
// keep their default.  An empty path returns the defaults.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompts: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}

func render(template string, pairs ...string) string {
	return strings.NewReplacer(pairs...).Replace(template)
}
