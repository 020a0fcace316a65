package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/edgeflow-go/flow"
)

// decisionDesc declares the decision-node: compares a numeric state
// value against a threshold and routes accordingly.
//
// Config:
//   - key: state key to inspect (default "randomNumber")
//   - threshold: comparison boundary (default 50)
//
// Emits "big" when state[key] > threshold, "small" otherwise. A missing
// or non-numeric value emits "error" so workflows can route around bad
// input instead of aborting.
var decisionDesc = flow.Descriptor{
	Type:    "decision-node",
	Name:    "Decision",
	Version: builtinVersion,
	Inputs:  []string{"key", "threshold"},
	Edges:   []string{"big", "small", "error"},
}

func decision(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	key, ok := stringArg(config, "key", "randomNumber")
	if !ok || key == "" {
		key = "randomNumber"
	}
	threshold, ok := intArg(config, "threshold", 50)
	if !ok {
		return flow.Emit("error", map[string]any{
			"error": "threshold must be numeric",
		}), nil
	}

	raw, found := ec.State.Lookup(key)
	if !found {
		raw, found = ec.Inputs[key]
	}
	value, numeric := asInt(raw)
	if !found || !numeric {
		return flow.Emit("error", map[string]any{
			"error": fmt.Sprintf("no numeric value under %q", key),
		}), nil
	}

	edge := "small"
	if value > threshold {
		edge = "big"
	}
	return flow.Emit(edge, map[string]any{"value": value, "threshold": threshold}), nil
}
