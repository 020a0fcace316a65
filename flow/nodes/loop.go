package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/edgeflow-go/flow"
)

// loopNodeDesc declares the loop-node: a bounded counter that drives
// re-entrant iteration.
//
// Config:
//   - key: state key holding the counter (default "loopCount")
//   - limit: iterations before stopping (default 5)
//
// While state[key] < limit the node increments the counter and emits
// "again"; once the counter reaches the limit it emits "stop" without
// touching it. A missing counter starts at zero.
var loopNodeDesc = flow.Descriptor{
	Type:    "loop-node",
	Name:    "Counting Loop",
	Version: builtinVersion,
	Inputs:  []string{"key", "limit"},
	Edges:   []string{"again", "stop"},
}

func loopNode(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	key, ok := stringArg(config, "key", "loopCount")
	if !ok || key == "" {
		key = "loopCount"
	}
	limit, ok := intArg(config, "limit", 5)
	if !ok {
		return nil, fmt.Errorf("loop-node: limit must be numeric")
	}

	count := 0
	if raw, found := ec.State[key]; found {
		count, ok = asInt(raw)
		if !ok {
			return nil, fmt.Errorf("loop-node: state %q is not numeric", key)
		}
	}

	if count >= limit {
		return flow.Emit("stop", map[string]any{key: count}), nil
	}

	count++
	ec.State[key] = count
	return flow.Emit("again", map[string]any{key: count}), nil
}
