// Package nodes provides the builtin node library.
//
// Builtins cover the common leaf operations workflows compose: random
// numbers, threshold decisions, message output, counting and range
// loops, HTTP fetch, string operations, state mutation, and language
// model completion. Each node conforms to the flow.Node contract:
// exactly one emitted edge per invocation, with failure expressed as a
// routable "error" edge wherever the failure is part of normal
// operation.
//
// Register the full library at startup:
//
//	registry := flow.NewRegistry()
//	if err := nodes.RegisterBuiltins(registry); err != nil {
//	    log.Fatal(err)
//	}
package nodes

import "github.com/dshills/edgeflow-go/flow"

// builtinVersion tags all builtin descriptors.
const builtinVersion = "1.0.0"

// RegisterBuiltins registers every builtin node type with the registry.
// Calling it twice against the same registry is a no-op.
func RegisterBuiltins(r *flow.Registry) error {
	builtins := []struct {
		desc    flow.Descriptor
		factory flow.Factory
	}{
		{printRandomNumberDesc, func() flow.Node { return flow.NodeFunc(printRandomNumber) }},
		{decisionDesc, func() flow.Node { return flow.NodeFunc(decision) }},
		{printMessageDesc, func() flow.Node { return flow.NodeFunc(printMessage) }},
		{loopNodeDesc, func() flow.Node { return flow.NodeFunc(loopNode) }},
		{rangeDesc, func() flow.Node { return flow.NodeFunc(rangeNode) }},
		{fetchDesc, func() flow.Node { return newFetchNode() }},
		{stringOpsDesc, func() flow.Node { return flow.NodeFunc(stringOps) }},
		{setStateDesc, func() flow.Node { return flow.NodeFunc(setState) }},
		{llmCompleteDesc, func() flow.Node { return flow.NodeFunc(llmComplete) }},
	}

	for _, b := range builtins {
		if err := r.Register(b.desc, b.factory); err != nil {
			return err
		}
	}
	return nil
}
