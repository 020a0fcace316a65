package model

import (
	"context"
	"sync"
)

// MockCompleter is a test implementation of Completer.
//
// Use it to verify workflow behaviour without live API calls. It
// provides configurable responses, call history, error injection, and
// thread-safe operation.
//
// Example:
//
//	mock := &MockCompleter{
//	    Responses: []Completion{
//	        {Text: "first"},
//	        {Text: "second"},
//	    },
//	}
//	out, err := mock.Complete(ctx, "prompt")
//	// Returns "first", then "second"; the last response repeats once
//	// the sequence is consumed.
type MockCompleter struct {
	// Responses is the sequence of completions to return. When the
	// sequence is exhausted the last entry repeats.
	Responses []Completion

	// Err, if set, is returned by Complete instead of a response.
	Err error

	// Prompts records every prompt passed to Complete.
	Prompts []string

	mu        sync.Mutex
	callIndex int
}

// Complete implements Completer.
func (m *MockCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	if ctx.Err() != nil {
		return Completion{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, prompt)

	if m.Err != nil {
		return Completion{}, m.Err
	}
	if len(m.Responses) == 0 {
		return Completion{Provider: "mock"}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}

	out := m.Responses[idx]
	if out.Provider == "" {
		out.Provider = "mock"
	}
	return out, nil
}

// Reset clears the call history and response cursor.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = nil
	m.callIndex = 0
}

// CallCount returns the number of Complete invocations.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
