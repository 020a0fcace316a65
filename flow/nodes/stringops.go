package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/edgeflow-go/flow"
)

// stringOpsDesc declares the string-ops node: applies one string
// transformation and records the result in state under "result".
//
// Config:
//   - op: "upper", "lower", "trim", "split", "join", or "replace" (required)
//   - value: input string ("upper", "lower", "trim", "split", "replace")
//     or list of strings ("join")
//   - sep: separator for "split" and "join" (default ",")
//   - old, new: substrings for "replace"
//
// An unknown op or mistyped value emits "error".
var stringOpsDesc = flow.Descriptor{
	Type:    "string-ops",
	Name:    "String Operations",
	Version: builtinVersion,
	Inputs:  []string{"op", "value", "sep", "old", "new"},
	Outputs: []string{"result"},
	Edges:   []string{"success", "error"},
}

func stringOps(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	op, ok := asString(config["op"])
	if !ok || op == "" {
		return nil, fmt.Errorf("string-ops: op config is required")
	}
	sep, ok := stringArg(config, "sep", ",")
	if !ok {
		sep = ","
	}

	var result any
	switch op {
	case "upper", "lower", "trim", "split", "replace":
		value, ok := asString(config["value"])
		if !ok {
			return flow.Emit("error", map[string]any{
				"error": fmt.Sprintf("op %q requires a string value", op),
			}), nil
		}
		switch op {
		case "upper":
			result = strings.ToUpper(value)
		case "lower":
			result = strings.ToLower(value)
		case "trim":
			result = strings.TrimSpace(value)
		case "split":
			parts := strings.Split(value, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			result = out
		case "replace":
			oldStr, _ := asString(config["old"])
			newStr, _ := asString(config["new"])
			result = strings.ReplaceAll(value, oldStr, newStr)
		}
	case "join":
		list, ok := config["value"].([]any)
		if !ok {
			return flow.Emit("error", map[string]any{
				"error": `op "join" requires a list value`,
			}), nil
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := asString(item)
			if !ok {
				return flow.Emit("error", map[string]any{
					"error": `op "join" requires a list of strings`,
				}), nil
			}
			parts = append(parts, s)
		}
		result = strings.Join(parts, sep)
	default:
		return flow.Emit("error", map[string]any{
			"error": fmt.Sprintf("unknown op %q", op),
		}), nil
	}

	ec.State["result"] = result
	return flow.Emit("success", map[string]any{"result": result}), nil
}
