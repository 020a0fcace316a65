// Package model provides language-model adapters for workflow nodes.
//
// The package defines one small interface, Completer, and ships adapters
// for the Anthropic, OpenAI, and Google Gemini APIs plus a scripted mock
// for tests. Workflows reach a Completer through service injection: the
// engine is constructed with WithServices(map[string]any{"llm": completer})
// and the llm-complete node looks the service up at execution time, so
// workflow definitions stay provider-agnostic.
//
// Example:
//
//	completer := model.NewAnthropic(apiKey, "claude-sonnet-4-20250514")
//	engine, err := flow.New(registry,
//	    flow.WithServices(map[string]any{"llm": completer}),
//	)
package model

import "context"

// Completion is the result of a single prompt completion.
type Completion struct {
	// Text is the model's response text.
	Text string

	// Tokens is the total token count consumed by the request, input
	// plus output, when the provider reports it. Zero when unknown.
	Tokens int

	// Provider identifies the adapter that produced the completion.
	Provider string
}

// Completer is the interface workflow nodes use to call a language
// model. Implementations must be safe for concurrent use and must
// respect context cancellation.
type Completer interface {
	// Complete sends a prompt and returns the model's response.
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// Error is a provider failure with a machine-readable code and a
// retryability hint.
type Error struct {
	// Provider is the adapter name ("anthropic", "openai", "google").
	Provider string

	// Code classifies the failure: "invalid_api_key", "rate_limited",
	// "timeout", or "api_error".
	Code string

	// Message is the human-readable description.
	Message string

	// Retryable reports whether a retry with backoff may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Provider + ": " + e.Message
}

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}
