package flow

import "context"

// Descriptor is the registry entry for a node type: identity, declared
// configuration surface, and the edges the node may emit. Descriptors are
// immutable once registered.
type Descriptor struct {
	// Type is the node type identifier, e.g. "decision-node".
	// Identifiers are lowercase with hyphen or underscore separators.
	Type string

	// Name is the human-readable name.
	Name string

	// Version of the node implementation.
	Version string

	// Inputs lists the config keys the node consumes.
	Inputs []string

	// Outputs lists the keys the node may write to state or payloads.
	Outputs []string

	// Edges lists the edge names the node may emit. Every node declares
	// at least one edge.
	Edges []string

	// Hints carries optional discovery metadata.
	Hints map[string]string
}

// EmitsEdge reports whether name is one of the declared edges.
func (d Descriptor) EmitsEdge(name string) bool {
	for _, e := range d.Edges {
		if e == name {
			return true
		}
	}
	return false
}

// Context is the per-invocation bundle handed to a node body.
//
// Nodes may read and mutate State freely; mutations persist to the next
// step. Inputs holds the payload emitted by the previous step (or the
// caller's overrides at the first step) and must be treated as read-only.
// Nodes must not retain references to State beyond the invocation.
type Context struct {
	// State is the run's mutable bag.
	State State

	// Inputs is the previous step's emitted payload merged with nothing;
	// the engine performs no automatic payload-to-state merge.
	Inputs map[string]any

	// WorkflowID identifies the workflow definition.
	WorkflowID string

	// NodeID is the instance identifier of the AST node being executed.
	NodeID string

	// ExecutionID identifies this run.
	ExecutionID string
}

// Service retrieves a named entry from the injected service collection.
// Services are the only sanctioned in-band cross-cutting dependency
// channel; the engine places them under a reserved state key before the
// run begins.
func (c *Context) Service(name string) (any, bool) {
	return c.State.Service(name)
}

// Thunk is a deferred payload computation. The engine calls the thunk of
// the emitted edge exactly once; it may perform I/O.
type Thunk func() (map[string]any, error)

// EdgeMap is a node invocation result: a mapping with exactly one entry
// whose key names the emitted edge and whose value produces the payload
// for that edge. A node returning more than one entry is non-conforming;
// the engine warns and follows the lexicographically smallest edge.
type EdgeMap map[string]Thunk

// Emit builds a conforming single-entry EdgeMap with an eager payload.
func Emit(edge string, payload map[string]any) EdgeMap {
	return EdgeMap{edge: func() (map[string]any, error) { return payload, nil }}
}

// EmitThunk builds a conforming single-entry EdgeMap with a deferred
// payload computation.
func EmitThunk(edge string, thunk Thunk) EdgeMap {
	return EdgeMap{edge: thunk}
}

// Node is the uniform contract every node body satisfies, in-tree or out.
//
// Execute receives the invocation context and a resolved, deep-cloned
// config mapping the node may mutate freely. It returns the single-edge
// EdgeMap, or an error to abort the run. Nodes that can fail as part of
// normal operation should prefer emitting an "error" edge over returning
// an error: emitted edges are routable, returned errors abort.
type Node interface {
	Execute(ctx context.Context, ec *Context, config map[string]any) (EdgeMap, error)
}

// NodeFunc adapts a plain function to the Node interface.
type NodeFunc func(ctx context.Context, ec *Context, config map[string]any) (EdgeMap, error)

// Execute implements Node.
func (f NodeFunc) Execute(ctx context.Context, ec *Context, config map[string]any) (EdgeMap, error) {
	return f(ctx, ec, config)
}

// Factory produces a fresh node instance bound to its descriptor. The
// registry calls the factory once per AST instance per run.
type Factory func() Node
