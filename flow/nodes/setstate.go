package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/edgeflow-go/flow"
)

// setStateDesc declares the set-state node: writes every config entry
// into run state verbatim. Combined with "$." template references this
// is the generic way to reshape state between steps.
//
// Reserved underscore-prefixed keys are rejected; nodes must not forge
// engine bookkeeping.
var setStateDesc = flow.Descriptor{
	Type:    "set-state",
	Name:    "Set State",
	Version: builtinVersion,
	Edges:   []string{"success"},
}

func setState(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	payload := make(map[string]any, len(config))
	for key, value := range config {
		if strings.HasPrefix(key, "_") {
			return nil, fmt.Errorf("set-state: key %q is reserved", key)
		}
		ec.State[key] = value
		payload[key] = value
	}
	return flow.Emit("success", payload), nil
}
