package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/edgeflow-go/flow"
	"github.com/dshills/edgeflow-go/flow/model"
)

// llmCompleteDesc declares the llm-complete node: sends a prompt to the
// injected language model service and records the response.
//
// Config:
//   - prompt: text to send (required; "$." references resolve before
//     invocation, so prompts can reference prior state)
//
// The node looks up the "llm" service, which must be a model.Completer.
// API failures emit the "error" edge; a missing or mistyped service is a
// wiring mistake and aborts the run.
//
// Outputs: state and payload gain "llmResponse" and "llmTokens".
var llmCompleteDesc = flow.Descriptor{
	Type:    "llm-complete",
	Name:    "LLM Complete",
	Version: builtinVersion,
	Inputs:  []string{"prompt"},
	Outputs: []string{"llmResponse", "llmTokens"},
	Edges:   []string{"success", "error"},
}

func llmComplete(ctx context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	prompt, ok := asString(config["prompt"])
	if !ok || prompt == "" {
		return nil, fmt.Errorf("llm-complete: prompt config is required")
	}

	svc, found := ec.Service("llm")
	if !found {
		return nil, fmt.Errorf(`llm-complete: service "llm" not configured`)
	}
	completer, ok := svc.(model.Completer)
	if !ok {
		return nil, fmt.Errorf(`llm-complete: service "llm" is not a model.Completer`)
	}

	out, err := completer.Complete(ctx, prompt)
	if err != nil {
		return flow.Emit("error", map[string]any{"error": err.Error()}), nil
	}

	ec.State["llmResponse"] = out.Text
	ec.State["llmTokens"] = out.Tokens
	return flow.Emit("success", map[string]any{
		"llmResponse": out.Text,
		"llmTokens":   out.Tokens,
		"provider":    out.Provider,
	}), nil
}
