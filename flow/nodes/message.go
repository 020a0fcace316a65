package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/edgeflow-go/flow"
)

// printMessageDesc declares the print-message node: records the
// configured message in state under "message".
//
// Config:
//   - message: the text to record (required)
var printMessageDesc = flow.Descriptor{
	Type:    "print-message",
	Name:    "Print Message",
	Version: builtinVersion,
	Inputs:  []string{"message"},
	Outputs: []string{"message"},
	Edges:   []string{"success"},
}

func printMessage(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	msg, ok := config["message"]
	if !ok {
		return nil, fmt.Errorf("print-message: message config is required")
	}

	ec.State["message"] = msg
	return flow.Emit("success", map[string]any{"message": msg}), nil
}
