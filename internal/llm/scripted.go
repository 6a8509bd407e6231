package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Scripted once every queued answer is used.
var ErrScriptExhausted = errors.New("llm: scripted responses exhausted")

// Request is one call recorded by Scripted.
type Request struct {
	System  string
	Turns   []Message
	Options Options
}

type scriptedAnswer struct {
	text string
	err  error
}

// Scripted is a Completer that replays queued answers in order and records
// every request.  It is safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	answers  []scriptedAnswer
	requests []Request
}

func NewScripted() *Scripted {
	return &Scripted{}
}

// Reply queues a successful answer.
func (s *Scripted) Reply(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, scriptedAnswer{text: text})
	return s
}

// Fail queues an error.
func (s *Scripted) Fail(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, scriptedAnswer{err: err})
	return s
}

func (s *Scripted) Complete(_ context.Context, system string, turns []Message, opts Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Request{
		System:  system,
		Turns:   append([]Message(nil), turns...),
		Options: opts,
	})
	if len(s.answers) == 0 {
		return "", ErrScriptExhausted
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next.text, next.err
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Pending reports how many queued answers have not been consumed.
func (s *Scripted) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
