package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"triage-intake/pkg"
)

// Result is what one engine invocation hands back to its caller and what the
// caller persists as conversation state.
type Result struct {
	Reply     string            `json:"reply"`
	OffTopic  bool              `json:"off_topic"`
	Extracted pkg.SymptomRecord `json:"extracted"`
}

// replyFields lists the keys accepted in place of "reply", in priority order.
var replyFields = []string{"reply", "message", "response", "answer", "text", "content", "question"}

// emptyValues are strings models use to mean "no value".
var emptyValues = map[string]bool{
	"null": true, "none": true, "nil": true, "n/a": true, "na": true,
	"unknown": true, "undefined": true, "not specified": true, "-": true,
}

var errNoJSON = errors.New("no JSON value found")

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object or array in s.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

func decodeValue(raw string) (interface{}, error) {
	js := extractJSON(raw)
	if js == "" {
		return nil, errNoJSON
	}
	var v interface{}
	if err := json.Unmarshal([]byte(js), &v); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	return v, nil
}

// DecodeRecord parses a record from raw completion output.  It fails only
// when raw holds no JSON at all; any JSON value is repaired into a record.
func DecodeRecord(raw string) (pkg.SymptomRecord, error) {
	v, err := decodeValue(raw)
	if err != nil {
		return pkg.SymptomRecord{Symptoms: []pkg.Symptom{}}, err
	}
	return NormalizeRecord(recordFromValue(v)), nil
}

func recordFromValue(v interface{}) pkg.SymptomRecord {
	rec := pkg.SymptomRecord{Symptoms: []pkg.Symptom{}}
	switch t := v.(type) {
	case []interface{}:
		rec.Symptoms = symptomsFromValues(t)
	case map[string]interface{}:
		if nested, ok := t["extracted"].(map[string]interface{}); ok {
			return recordFromValue(nested)
		}
		switch items := t["symptoms"].(type) {
		case []interface{}:
			rec.Symptoms = symptomsFromValues(items)
		case nil:
			// single-symptom form: {"symptom": "...", "severity": ...}
			if s, ok := symptomFromValue(t); ok {
				if _, named := t["symptom"]; named {
					rec.Symptoms = append(rec.Symptoms, s)
				}
			}
		default:
			if s, ok := symptomFromValue(items); ok {
				rec.Symptoms = append(rec.Symptoms, s)
			}
		}
		if idx, ok := t["current_index"].(float64); ok {
			rec.CurrentIndex = int(idx)
		}
	}
	return rec
}

func symptomsFromValues(items []interface{}) []pkg.Symptom {
	out := make([]pkg.Symptom, 0, len(items))
	for _, item := range items {
		if s, ok := symptomFromValue(item); ok {
			out = append(out, s)
		}
	}
	return out
}

// symptomFromValue wraps plain names into a Symptom with empty details and
// reads structured items field by field.
func symptomFromValue(v interface{}) (pkg.Symptom, bool) {
	switch t := v.(type) {
	case string:
		name := cleanValue(t)
		return pkg.Symptom{Name: name}, name != ""
	case map[string]interface{}:
		s := pkg.Symptom{
			Name:      textValue(t["symptom"]),
			Severity:  textValue(t["severity"]),
			Duration:  textValue(t["duration"]),
			Frequency: textValue(t["frequency"]),
		}
		if s.Name == "" {
			s.Name = textValue(t["name"])
		}
		return s, s != pkg.Symptom{}
	}
	return pkg.Symptom{}, false
}

func textValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return cleanValue(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if emptyValues[strings.ToLower(s)] {
		return ""
	}
	return s
}

// NormalizeRecord validates a record against the canonical shape: the
// symptom list is never nil, every value is trimmed and the cursor is clamped
// into range.  Entries are never dropped; an empty one is a symptom still
// waiting for its name.
func NormalizeRecord(rec pkg.SymptomRecord) pkg.SymptomRecord {
	out := pkg.SymptomRecord{Symptoms: make([]pkg.Symptom, 0, len(rec.Symptoms))}
	for _, s := range rec.Symptoms {
		s = pkg.Symptom{
			Name:      cleanValue(s.Name),
			Severity:  cleanValue(s.Severity),
			Duration:  cleanValue(s.Duration),
			Frequency: cleanValue(s.Frequency),
		}
		out.Symptoms = append(out.Symptoms, s)
	}
	out.CurrentIndex = rec.CurrentIndex
	if out.CurrentIndex >= len(out.Symptoms) {
		out.CurrentIndex = len(out.Symptoms) - 1
	}
	if out.CurrentIndex < 0 {
		out.CurrentIndex = 0
	}
	return out
}

// RepairResult turns raw phrasing output into a well-formed Result carrying
// rec.  Plain text becomes the reply; a JSON answer is searched for a reply
// under any known synonym and an off_topic flag.  It never fails.
func RepairResult(raw string, rec pkg.SymptomRecord) Result {
	r := Result{Reply: raw, Extracted: rec}
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "```") {
		if v, err := decodeValue(trimmed); err == nil {
			r.Reply = ""
			if m, ok := v.(map[string]interface{}); ok {
				r.Reply = replyFromMap(m)
				r.OffTopic, _ = m["off_topic"].(bool)
			}
		}
	}
	return Repair(r)
}

func replyFromMap(m map[string]interface{}) string {
	for _, key := range replyFields {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Repair applies every normalisation rule to an already typed Result.  It is
// idempotent.
func Repair(r Result) Result {
	r.Extracted = NormalizeRecord(r.Extracted)
	r.Reply = cleanReply(r.Reply)
	if r.Reply == "" {
		r.Reply = FallbackQuestion(r.Extracted)
	}
	return r
}

// cleanReply trims whitespace and any quote characters wrapped around the
// whole reply.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := s
		for _, q := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"`", "`"}} {
			if len(trimmed) >= len(q[0])+len(q[1]) && strings.HasPrefix(trimmed, q[0]) && strings.HasSuffix(trimmed, q[1]) {
				trimmed = strings.TrimSpace(trimmed[len(q[0]) : len(trimmed)-len(q[1])])
			}
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// FallbackQuestion phrases a reply locally from the record: a question about
// the first missing detail of the first incomplete symptom, or whether there
// are other symptoms once everything is filled.
func FallbackQuestion(rec pkg.SymptomRecord) string {
	if len(rec.Symptoms) == 0 {
		return "What is the main symptom you are experiencing?"
	}
	for _, s := range rec.Symptoms {
		if f, missing := s.FirstMissing(); missing {
			return detailQuestion(f, s.Name)
		}
	}
	return "Do you have any other symptoms you would like to mention?"
}

func detailQuestion(f pkg.Field, name string) string {
	subject := "this symptom"
	if !IsPlaceholderName(name) {
		subject = "your " + name
	}
	switch f {
	case pkg.FieldSeverity:
		return fmt.Sprintf("How severe is %s (mild, moderate, severe, or 1-10)?", subject)
	case pkg.FieldDuration:
		return fmt.Sprintf("How long have you had %s?", subject)
	default:
		return fmt.Sprintf("How often does %s occur?", subject)
	}
}
