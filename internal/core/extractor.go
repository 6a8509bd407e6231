package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"triage-intake/internal/llm"
	"triage-intake/internal/logger"
	"triage-intake/pkg"
)

// Extractor updates a symptom record from the latest patient message.  It
// makes no policy decisions.
type Extractor struct {
	LLM         llm.Completer
	Prompt      string
	Temperature float32
}

// NewExtractor constructs an Extractor.
func NewExtractor(c llm.Completer, prompt string, temperature float32) *Extractor {
	return &Extractor{LLM: c, Prompt: prompt, Temperature: temperature}
}

// Extract issues one structured completion and merges its answer onto prior.
// A transport error is returned as is.  Output that cannot be parsed yields
// prior unchanged with a nil error, so a bad answer never corrupts state.
func (e *Extractor) Extract(ctx context.Context, prior pkg.SymptomRecord, utterance string) (pkg.SymptomRecord, error) {
	prior = NormalizeRecord(prior)
	if utterance == "" {
		return prior, nil
	}

	state, err := json.Marshal(prior)
	if err != nil {
		return prior, fmt.Errorf("encode record: %w", err)
	}
	system := render(e.Prompt,
		phCurrentState, string(state),
		phUserMessage, utterance,
	)

	raw, err := e.LLM.Complete(ctx, system, userTurn(utterance), llm.Options{
		Temperature: e.Temperature,
		Structured:  true,
	})
	if err != nil {
		return prior, fmt.Errorf("extract: %w", err)
	}

	parsed, err := DecodeRecord(raw)
	if err != nil {
		logger.Warn("unparseable extraction, keeping prior record", "err", err)
		return prior, nil
	}
	return MergeRecord(prior, parsed, isBareAffirmation(utterance)), nil
}

// MergeRecord lays parsed over prior.  A parsed entry goes to the prior
// symptom with the same name, ignoring case.  An entry without a name falls
// back to its position, and a newly named one fills a pending placeholder
// before it is appended.  Prior entries are never dropped and a real prior
// name is never replaced; a non-empty parsed detail overwrites, an empty one
// keeps the prior value.  Unmatched entries append unless keepLength is set.
func MergeRecord(prior, parsed pkg.SymptomRecord, keepLength bool) pkg.SymptomRecord {
	out := prior.Clone()
	claimed := map[int]bool{}
	for i, p := range parsed.Symptoms {
		j := matchSymptom(out.Symptoms, claimed, p, i)
		if j < 0 {
			if !keepLength && p != (pkg.Symptom{}) {
				out.Symptoms = append(out.Symptoms, p)
				claimed[len(out.Symptoms)-1] = true
			}
			continue
		}
		claimed[j] = true
		cur := &out.Symptoms[j]
		if IsPlaceholderName(cur.Name) && p.Name != "" {
			cur.Name = p.Name
		}
		for _, f := range pkg.DetailFields {
			if v := p.Detail(f); v != "" {
				cur.SetDetail(f, v)
			}
		}
	}
	return NormalizeRecord(out)
}

// matchSymptom returns the index in list that parsed entry p at position pos
// refers to, or -1 when it names a new symptom.
func matchSymptom(list []pkg.Symptom, claimed map[int]bool, p pkg.Symptom, pos int) int {
	if !IsPlaceholderName(p.Name) {
		key := symptomKey(p.Name)
		for j, s := range list {
			if symptomKey(s.Name) == key {
				return j
			}
		}
		if pos < len(list) && !claimed[pos] && IsPlaceholderName(list[pos].Name) {
			return pos
		}
		for j, s := range list {
			if !claimed[j] && IsPlaceholderName(s.Name) {
				return j
			}
		}
		return -1
	}
	if pos >= len(list) || claimed[pos] {
		return -1
	}
	if p.Name == "" || IsPlaceholderName(list[pos].Name) {
		return pos
	}
	return -1
}

func symptomKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
