package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// classifyError maps an SDK error onto a *Error with the right code and
// retryability. Provider SDKs do not expose stable typed errors for all
// failure classes, so classification falls back to status-code and
// keyword matching on the message.
func classifyError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Provider:  provider,
			Code:      "timeout",
			Message:   "request cancelled or timed out",
			Retryable: true,
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "api_key"),
		strings.Contains(msg, "API key"):
		return &Error{
			Provider: provider,
			Code:     "invalid_api_key",
			Message:  "API key is invalid or expired",
		}
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return &Error{
			Provider:  provider,
			Code:      "rate_limited",
			Message:   "API rate limit exceeded",
			Retryable: true,
		}
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"):
		return &Error{
			Provider:  provider,
			Code:      "timeout",
			Message:   "request timed out",
			Retryable: true,
		}
	}

	return &Error{
		Provider: provider,
		Code:     "api_error",
		Message:  fmt.Sprintf("API error: %v", err),
	}
}
