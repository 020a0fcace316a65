package nodes

import (
	"context"
	"math/rand/v2"

	"github.com/dshills/edgeflow-go/flow"
)

// printRandomNumberDesc declares the print-random-number node: draws a
// uniform integer in [0, max) and writes it to state under
// "randomNumber".
//
// Config:
//   - max: exclusive upper bound (default 100)
var printRandomNumberDesc = flow.Descriptor{
	Type:    "print-random-number",
	Name:    "Print Random Number",
	Version: builtinVersion,
	Inputs:  []string{"max"},
	Outputs: []string{"randomNumber"},
	Edges:   []string{"success"},
}

func printRandomNumber(_ context.Context, ec *flow.Context, config map[string]any) (flow.EdgeMap, error) {
	max, ok := intArg(config, "max", 100)
	if !ok || max <= 0 {
		max = 100
	}

	n := rand.IntN(max)
	ec.State["randomNumber"] = n
	return flow.Emit("success", map[string]any{"randomNumber": n}), nil
}
