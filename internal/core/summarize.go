package core

import (
	"fmt"
	"strings"
	"time"

	"triage-intake/pkg"
)

// NotSpecified is shown in doctor-facing output for an empty detail.
const NotSpecified = "not specified"

// Summarize builds the doctor-facing summary of a record: one key point per
// symptom plus a free-text paragraph.  It makes no completion call.
func Summarize(sessionID string, rec pkg.SymptomRecord, updatedAt time.Time) *pkg.Summary {
	rec = NormalizeRecord(rec)
	points := make([]string, 0, len(rec.Symptoms))
	for _, s := range rec.Symptoms {
		points = append(points, KeyPoint(s))
	}

	var free string
	switch len(points) {
	case 0:
		free = "No symptoms reported yet."
	case 1:
		free = "The patient reports one symptom. " + points[0] + "."
	default:
		free = fmt.Sprintf("The patient reports %d symptoms. %s.", len(points), strings.Join(points, ". "))
	}

	return &pkg.Summary{
		SessionID: sessionID,
		KeyPoints: points,
		FreeText:  free,
		Record:    rec,
		UpdatedAt: updatedAt,
	}
}

// KeyPoint renders one symptom as "Headache: severity 7/10, duration 1 day,
// frequency not specified".
func KeyPoint(s pkg.Symptom) string {
	name := s.Name
	if IsPlaceholderName(name) {
		name = "Unnamed symptom"
	}
	parts := make([]string, 0, len(pkg.DetailFields))
	for _, f := range pkg.DetailFields {
		v := s.Detail(f)
		if v == "" {
			v = NotSpecified
		}
		parts = append(parts, fmt.Sprintf("%s %s", f, v))
	}
	return fmt.Sprintf("%s: %s", capitalize(name), strings.Join(parts, ", "))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
