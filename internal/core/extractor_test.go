package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage-intake/internal/llm"
	"triage-intake/internal/logger"
	"triage-intake/pkg"
)

func TestExtractSendsStructuredRequest(t *testing.T) {
	script := llm.NewScripted().Reply(`{"symptoms": [{"symptom": "headache", "severity": null, "duration": null, "frequency": null}]}`)
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), pkg.SymptomRecord{}, "I have a headache")
	require.NoError(t, err)
	assert.Equal(t, []pkg.Symptom{{Name: "headache"}}, rec.Symptoms)

	reqs := script.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Options.Structured)
	assert.InDelta(t, 0.1, reqs[0].Options.Temperature, 1e-6)
	assert.Contains(t, reqs[0].System, `"I have a headache"`)
	assert.Contains(t, reqs[0].System, `{"symptoms":[],"current_index":0}`)
	require.Len(t, reqs[0].Turns, 1)
	assert.Equal(t, llm.RoleUser, reqs[0].Turns[0].Role)
}

func TestExtractUnparseableKeepsPrior(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{{Name: "cough", Severity: "mild"}}}
	script := llm.NewScripted().Reply("Sorry, I cannot help with that.")
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(io.Discard) })

	rec, err := ex.Extract(context.Background(), prior, "it is bad")
	require.NoError(t, err)
	assert.Equal(t, prior.Symptoms, rec.Symptoms)
	assert.Contains(t, buf.String(), "unparseable extraction")
}

func TestExtractTransportError(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{{Name: "cough"}}}
	boom := errors.New("connection reset")
	script := llm.NewScripted().Fail(boom)
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), prior, "mild")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, prior.Symptoms, rec.Symptoms)
}

func TestExtractEmptyUtteranceSkipsCall(t *testing.T) {
	script := llm.NewScripted()
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), pkg.SymptomRecord{}, "")
	require.NoError(t, err)
	assert.Empty(t, rec.Symptoms)
	assert.Empty(t, script.Requests())
}

func TestMergeRecord(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{
		{Name: "headache", Severity: "7/10"},
		{Name: "nausea"},
	}}

	tests := []struct {
		name       string
		prior      pkg.SymptomRecord
		parsed     []pkg.Symptom
		keepLength bool
		want       []pkg.Symptom
	}{
		{
			name:   "partial list updates the named symptom",
			prior:  prior,
			parsed: []pkg.Symptom{{Name: "nausea", Severity: "mild"}},
			want:   []pkg.Symptom{{Name: "headache", Severity: "7/10"}, {Name: "nausea", Severity: "mild"}},
		},
		{
			name:   "reordered list is matched by name",
			prior:  prior,
			parsed: []pkg.Symptom{{Name: "Nausea ", Severity: "mild"}, {Name: "headache", Duration: "3 days"}},
			want: []pkg.Symptom{
				{Name: "headache", Severity: "7/10", Duration: "3 days"},
				{Name: "nausea", Severity: "mild"},
			},
		},
		{
			name:   "unnamed entries fall back to position",
			prior:  prior,
			parsed: []pkg.Symptom{{Frequency: "daily"}},
			want:   []pkg.Symptom{{Name: "headache", Severity: "7/10", Frequency: "daily"}, {Name: "nausea"}},
		},
		{
			name:   "empty parsed details keep prior values",
			prior:  prior,
			parsed: []pkg.Symptom{{Name: "headache"}},
			want:   prior.Symptoms,
		},
		{
			name:   "new name appends and names stay fixed",
			prior:  prior,
			parsed: []pkg.Symptom{{Name: "migraine", Duration: "1 day"}, {Name: "nausea"}},
			want: []pkg.Symptom{
				{Name: "headache", Severity: "7/10"},
				{Name: "nausea"},
				{Name: "migraine", Duration: "1 day"},
			},
		},
		{
			name:   "new name fills a pending placeholder",
			prior:  pkg.SymptomRecord{Symptoms: []pkg.Symptom{complete("cough"), {Name: "yes", Duration: "2 days"}}},
			parsed: []pkg.Symptom{{Name: "dizziness"}, {Name: "cough"}},
			want:   []pkg.Symptom{complete("cough"), {Name: "dizziness", Duration: "2 days"}},
		},
		{
			name:   "placeholder echoed in place",
			prior:  pkg.SymptomRecord{Symptoms: []pkg.Symptom{complete("cough"), {}}},
			parsed: []pkg.Symptom{{Name: "cough"}, {Name: "other"}},
			want:   []pkg.Symptom{complete("cough"), {Name: "other"}},
		},
		{
			name:       "keep length drops appended entries",
			prior:      prior,
			parsed:     []pkg.Symptom{{Name: "headache"}, {Name: "nausea"}, {Name: "yes"}},
			keepLength: true,
			want:       prior.Symptoms,
		},
		{
			name:       "keep length still updates details",
			prior:      prior,
			parsed:     []pkg.Symptom{{Name: "nausea", Frequency: "hourly"}},
			keepLength: true,
			want:       []pkg.Symptom{{Name: "headache", Severity: "7/10"}, {Name: "nausea", Frequency: "hourly"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeRecord(tt.prior, pkg.SymptomRecord{Symptoms: tt.parsed}, tt.keepLength)
			assert.Equal(t, tt.want, got.Symptoms)
		})
	}

	t.Run("prior is not mutated", func(t *testing.T) {
		parsed := pkg.SymptomRecord{Symptoms: []pkg.Symptom{{Name: "headache", Frequency: "hourly"}}}
		_ = MergeRecord(prior, parsed, false)
		assert.Empty(t, prior.Symptoms[0].Frequency)
	})
}

func TestExtractNamedSymptomAfterYes(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{complete("headache")}}
	script := llm.NewScripted().Reply(`{"symptoms": [{"symptom": "headache"}, {"symptom": "cough"}]}`)
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), prior, "yes cough")
	require.NoError(t, err)
	assert.Equal(t, []pkg.Symptom{complete("headache"), {Name: "cough"}}, rec.Symptoms)
}

func TestExtractBareYesKeepsList(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{complete("headache")}}
	script := llm.NewScripted().Reply(`{"symptoms": [{"symptom": "headache"}, {"symptom": "yes"}]}`)
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), prior, "Yes!")
	require.NoError(t, err)
	assert.Equal(t, prior.Symptoms, rec.Symptoms)
}

func TestRecordGrowsMonotonically(t *testing.T) {
	answers := []string{
		`{"symptoms": [{"symptom": "headache"}]}`,
		`{"symptoms": []}`,
		`{"symptoms": [{"symptom": "nausea", "severity": "5/10"}]}`,
		`not json`,
		`{"symptoms": [{"symptom": "headache"}, {"symptom": "nausea"}, {"symptom": "fever"}]}`,
	}
	script := llm.NewScripted()
	for _, a := range answers {
		script.Reply(a)
	}
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	var rec pkg.SymptomRecord
	names := map[int]string{}
	for i := range answers {
		next, err := ex.Extract(context.Background(), rec, "turn")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(next.Symptoms), len(rec.Symptoms), "turn %d", i)
		for idx, name := range names {
			assert.Equal(t, name, next.Symptoms[idx].Name, "turn %d", i)
		}
		for idx, s := range next.Symptoms {
			if !IsPlaceholderName(s.Name) {
				names[idx] = s.Name
			}
		}
		rec = next
	}
	require.Len(t, rec.Symptoms, 3)
	assert.Equal(t, pkg.Symptom{Name: "headache"}, rec.Symptoms[0])
	assert.Equal(t, pkg.Symptom{Name: "nausea", Severity: "5/10"}, rec.Symptoms[1])
	assert.Equal(t, "fever", rec.Symptoms[2].Name)
}

func TestRecordKeepsPendingPlaceholder(t *testing.T) {
	prior := pkg.SymptomRecord{Symptoms: []pkg.Symptom{complete("headache"), {}}}
	script := llm.NewScripted().Reply("not json")
	ex := NewExtractor(script, ExtractPrompt, 0.1)

	rec, err := ex.Extract(context.Background(), prior, "it hurts")
	require.NoError(t, err)
	assert.Equal(t, prior.Symptoms, rec.Symptoms)
	assert.Equal(t, GoalNamePlaceholder, SelectGoal(rec, "it hurts").Kind)
}
