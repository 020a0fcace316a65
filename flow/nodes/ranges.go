package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/edgeflow-go/flow"
)

// rangeDesc declares the range node: yields one value per iteration over
// a half-open interval, driving a re-entrant loop.
//
// Config:
//   - start: first value (required)
//   - stop: exclusive upper (or lower, for negative step) bound (required)
//   - step: increment per iteration (default 1, must be non-zero)
//
// Each in-range iteration writes the current value to state under
// "rangeValue" and emits "next". When the cursor passes stop the node
// emits "complete". The cursor lives under the run's loop bookkeeping
// key for this instance, so the engine's clearing on loop entry and
// exit resets the range automatically.
var rangeDesc = flow.Descriptor{
	Type:    "range",
	Name:    "Range",
	Version: builtinVersion,
	Inputs:  []string{"start", "stop", "step"},
	Outputs: []string{"rangeValue"},
	Edges:   []string{"next", "complete"},
}

func rangeNode(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	start, ok := intArg(config, "start", 0)
	if !ok {
		return nil, fmt.Errorf("range: start must be numeric")
	}
	if _, present := config["stop"]; !present {
		return nil, fmt.Errorf("range: stop config is required")
	}
	stop, ok := intArg(config, "stop", 0)
	if !ok {
		return nil, fmt.Errorf("range: stop must be numeric")
	}
	step, ok := intArg(config, "step", 1)
	if !ok {
		return nil, fmt.Errorf("range: step must be numeric")
	}
	if step == 0 {
		return nil, fmt.Errorf("range: step cannot be zero")
	}

	cursorKey := flow.LoopStateKey(ec.NodeID)
	cursor := start
	if raw, found := ec.State[cursorKey]; found {
		cursor, ok = asInt(raw)
		if !ok {
			return nil, fmt.Errorf("range: loop cursor corrupted")
		}
	}

	inRange := cursor < stop
	if step < 0 {
		inRange = cursor > stop
	}
	if !inRange {
		return flow.Emit("complete", map[string]any{"rangeValue": nil}), nil
	}

	ec.State["rangeValue"] = cursor
	ec.State[cursorKey] = cursor + step
	return flow.Emit("next", map[string]any{"rangeValue": cursor}), nil
}
