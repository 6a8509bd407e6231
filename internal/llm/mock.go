package llm

import "context"

// Mock is an offline completer for local runs without an API key.  It never
// extracts anything and always answers with the same prompt for more detail.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Complete(_ context.Context, _ string, _ []Message, opts Options) (string, error) {
	if opts.Structured {
		return `{"symptoms": []}`, nil
	}
	return "Thank you. Could you tell me a little more about how you are feeling?", nil
}
