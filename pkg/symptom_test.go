package pkg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymptomJSONUsesNullForEmpty(t *testing.T) {
	data, err := json.Marshal(Symptom{Name: "headache", Severity: "7/10"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symptom":"headache","severity":"7/10","duration":null,"frequency":null}`, string(data))

	var s Symptom
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, Symptom{Name: "headache", Severity: "7/10"}, s)
}

func TestRecordJSONNeverNull(t *testing.T) {
	data, err := json.Marshal(SymptomRecord{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"symptoms":[],"current_index":0}`, string(data))
}

func TestFirstMissing(t *testing.T) {
	f, missing := Symptom{Name: "cough", Severity: "mild"}.FirstMissing()
	assert.True(t, missing)
	assert.Equal(t, FieldDuration, f)

	full := Symptom{Name: "cough", Severity: "mild", Duration: "2 days", Frequency: "daily"}
	assert.True(t, full.Complete())
}

func TestCloneIsDeep(t *testing.T) {
	rec := SymptomRecord{Symptoms: []Symptom{{Name: "cough"}}}
	c := rec.Clone()
	c.Symptoms[0].Severity = "mild"
	assert.Empty(t, rec.Symptoms[0].Severity)
}
