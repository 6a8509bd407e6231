package pkg

import "encoding/json"

// Field names one of the detail slots collected for every symptom.
type Field string

const (
	FieldSeverity  Field = "severity"
	FieldDuration  Field = "duration"
	FieldFrequency Field = "frequency"
)

// DetailFields is the fixed order in which details are requested.
var DetailFields = []Field{FieldSeverity, FieldDuration, FieldFrequency}

// Symptom is one reported complaint.  An empty Name marks a placeholder that
// still has to be named by the patient.  Empty detail fields serialise as null.
type Symptom struct {
	Name      string `json:"symptom"`
	Severity  string `json:"severity"`
	Duration  string `json:"duration"`
	Frequency string `json:"frequency"`
}

// Detail returns the value of the given detail field.
func (s Symptom) Detail(f Field) string {
	switch f {
	case FieldSeverity:
		return s.Severity
	case FieldDuration:
		return s.Duration
	case FieldFrequency:
		return s.Frequency
	}
	return ""
}

// SetDetail assigns the value of the given detail field.
func (s *Symptom) SetDetail(f Field, v string) {
	switch f {
	case FieldSeverity:
		s.Severity = v
	case FieldDuration:
		s.Duration = v
	case FieldFrequency:
		s.Frequency = v
	}
}

// FirstMissing returns the first empty detail in DetailFields order.
func (s Symptom) FirstMissing() (Field, bool) {
	for _, f := range DetailFields {
		if s.Detail(f) == "" {
			return f, true
		}
	}
	return "", false
}

// Complete reports whether every detail field is filled.
func (s Symptom) Complete() bool {
	_, missing := s.FirstMissing()
	return !missing
}

func (s Symptom) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      *string `json:"symptom"`
		Severity  *string `json:"severity"`
		Duration  *string `json:"duration"`
		Frequency *string `json:"frequency"`
	}{nullable(s.Name), nullable(s.Severity), nullable(s.Duration), nullable(s.Frequency)})
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// SymptomRecord accumulates everything learned about the patient in one
// session.  Symptoms keep the order in which they were first mentioned.
// CurrentIndex points at the symptom the conversation is focused on; it is a
// hint for prompts and never used to decide anything.
type SymptomRecord struct {
	Symptoms     []Symptom `json:"symptoms"`
	CurrentIndex int       `json:"current_index"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (r SymptomRecord) Clone() SymptomRecord {
	out := SymptomRecord{CurrentIndex: r.CurrentIndex, Symptoms: make([]Symptom, len(r.Symptoms))}
	copy(out.Symptoms, r.Symptoms)
	return out
}

func (r SymptomRecord) MarshalJSON() ([]byte, error) {
	type plain SymptomRecord
	if r.Symptoms == nil {
		r.Symptoms = []Symptom{}
	}
	return json.Marshal(plain(r))
}
