package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"triage-intake/pkg"
)

// GoalKind identifies which rule of the selection policy fired.
type GoalKind string

const (
	GoalSummarize       GoalKind = "summarize"
	GoalNameNew         GoalKind = "name_new"
	GoalNamePlaceholder GoalKind = "name_placeholder"
	GoalAskDetail       GoalKind = "ask_detail"
	GoalAskMain         GoalKind = "ask_main"
	GoalClose           GoalKind = "close"
	GoalAskOther        GoalKind = "ask_other"
)

// shortReplyLimit is the length below which an affirmation or negation is
// treated as a bare answer rather than a sentence with content.
const shortReplyLimit = 10

var (
	affirmationWords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "y": true,
		"sure": true, "ok": true, "okay": true,
	}
	negationWords = map[string]bool{
		"no": true, "nope": true, "nah": true, "n": true,
		"none": true, "nothing": true,
	}
	placeholderNames = map[string]bool{
		"": true, "yes": true, "no": true, "other": true, "symptom": true,
	}
)

// Goal is the single next step handed to the phraser.  Index is the symptom
// the goal is about, or -1.  Field is set only for GoalAskDetail.
type Goal struct {
	Kind        GoalKind
	Index       int
	Field       pkg.Field
	Instruction string
}

// IsPlaceholderName reports whether name still needs to be asked for.
func IsPlaceholderName(name string) bool {
	return placeholderNames[strings.ToLower(strings.TrimSpace(name))]
}

func firstWord(utterance string) string {
	s := strings.ToLower(strings.TrimSpace(utterance))
	s = strings.TrimRight(s, ".!?, ")
	if i := strings.IndexAny(s, " ,.!"); i >= 0 {
		s = s[:i]
	}
	return s
}

func isShort(utterance string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(utterance)) < shortReplyLimit
}

// IsShortAffirmation reports whether the utterance is a bare "yes".
func IsShortAffirmation(utterance string) bool {
	return isShort(utterance) && affirmationWords[firstWord(utterance)]
}

// isBareAffirmation reports whether the whole utterance is one affirmation
// word, so "yes cough" does not qualify.
func isBareAffirmation(utterance string) bool {
	s := strings.ToLower(strings.TrimSpace(utterance))
	return affirmationWords[strings.TrimRight(s, ".!?, ")]
}

// IsShortNegation reports whether the utterance is a bare "no".
func IsShortNegation(utterance string) bool {
	return isShort(utterance) && negationWords[firstWord(utterance)]
}

// SelectGoal decides the one thing to ask or say next.  Rules are evaluated
// in order and the first match wins.
func SelectGoal(rec pkg.SymptomRecord, utterance string) Goal {
	if strings.Contains(strings.ToLower(utterance), "summary") {
		return Goal{
			Kind:        GoalSummarize,
			Index:       -1,
			Instruction: "Produce a full summary of EVERY symptom in CURRENT COLLECTED DATA with its severity, duration and frequency, then ask the patient to confirm it is correct.",
		}
	}

	if IsShortAffirmation(utterance) {
		return Goal{
			Kind:        GoalNameNew,
			Index:       -1,
			Instruction: "The patient said they have another symptom but did not name it. Ask what the new symptom is.",
		}
	}

	for i, s := range rec.Symptoms {
		if IsPlaceholderName(s.Name) {
			return Goal{
				Kind:        GoalNamePlaceholder,
				Index:       i,
				Instruction: "One reported symptom has no clear name yet. Ask the patient specifically what that symptom is. Ask nothing else.",
			}
		}
	}

	for i := len(rec.Symptoms) - 1; i >= 0; i-- {
		s := rec.Symptoms[i]
		if f, missing := s.FirstMissing(); missing {
			return Goal{
				Kind:        GoalAskDetail,
				Index:       i,
				Field:       f,
				Instruction: detailInstruction(f, s.Name),
			}
		}
	}

	if len(rec.Symptoms) == 0 {
		return Goal{
			Kind:        GoalAskMain,
			Index:       -1,
			Instruction: "Ask the patient what their main symptom is.",
		}
	}

	if IsShortNegation(utterance) {
		return Goal{
			Kind:        GoalClose,
			Index:       -1,
			Instruction: "Summarize ALL symptoms in CURRENT COLLECTED DATA with their details, thank the patient and tell them the doctor will review this before the appointment. Do not ask any further question.",
		}
	}

	return Goal{
		Kind:        GoalAskOther,
		Index:       -1,
		Instruction: "Briefly acknowledge the answer and ask whether the patient has any other symptoms.",
	}
}

func detailInstruction(f pkg.Field, name string) string {
	switch f {
	case pkg.FieldSeverity:
		return fmt.Sprintf("Ask how severe the %q is (mild, moderate, severe, or 1-10). Ask about severity ONLY.", name)
	case pkg.FieldDuration:
		return fmt.Sprintf("Ask how long the patient has had the %q. Ask about duration ONLY.", name)
	default:
		return fmt.Sprintf("Ask how often the %q occurs. Ask about frequency ONLY.", name)
	}
}
