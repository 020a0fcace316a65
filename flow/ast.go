package flow

import "encoding/json"

// loopMarker is the canonical trailing suffix marking a re-entrant node.
// The ASCII spelling "..." is accepted on input as well.
const (
	loopMarker      = "…"
	loopMarkerASCII = "..."
)

// edgeQuerySuffix marks a config key as an edge branch rather than a
// configuration value.
const edgeQuerySuffix = "?"

// Workflow is the parsed, validated form of a workflow definition. A
// definition is immutable per version.
type Workflow struct {
	// ID identifies the workflow definition.
	ID string

	// Name is the human-readable workflow name.
	Name string

	// Version of the definition.
	Version string

	// InitialState seeds the run's state bag; it is deep-cloned per run.
	InitialState map[string]any

	// Steps is the ordered root sequence. Each step executes in index
	// order, observing the final state of its predecessor.
	Steps []*Step
}

// Step is one AST node: a single node invocation with its configuration
// and the branch subgraphs wired to its edges.
type Step struct {
	// InstanceID is the stable path-derived identifier: ordinal indices
	// and edge names along the path, dot-joined ("1.big.0"). Loop nodes
	// rely on it for stable bookkeeping keys.
	InstanceID string

	// Type is the registered node type identifier.
	Type string

	// IsLoop marks a re-entrant node: after a branch subgraph completes,
	// the engine re-invokes this node rather than continuing past it.
	IsLoop bool

	// Config holds the plain (non-edge-query) configuration entries,
	// template references unresolved.
	Config map[string]any

	// ConfigOrder preserves the authored order of Config keys for
	// canonical re-serialisation. Order carries no execution semantics.
	ConfigOrder []string

	// Branches maps an edge name to the subgraph executed when that edge
	// fires. Only the branch matching the emitted edge runs.
	Branches map[string][]*Step

	// BranchOrder preserves the authored order of branch keys for
	// canonical re-serialisation. Order carries no execution semantics.
	BranchOrder []string
}

// MarshalJSON serialises the workflow back to its canonical sugar form.
// Parsing the output yields a semantically equivalent workflow.
func (w *Workflow) MarshalJSON() ([]byte, error) {
	doc := NewOrderedMap()
	if w.ID != "" {
		doc.Set("id", w.ID)
	}
	if w.Name != "" {
		doc.Set("name", w.Name)
	}
	if w.Version != "" {
		doc.Set("version", w.Version)
	}
	if w.InitialState != nil {
		doc.Set("initialState", w.InitialState)
	}
	steps := make([]any, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = s.expression()
	}
	doc.Set("workflow", steps)
	return json.Marshal(doc)
}

// expression lowers a step back to the sugar form it was parsed from: a
// bare type string when there is nothing else to say, otherwise a
// single-key mapping with config entries followed by edge branches.
func (s *Step) expression() any {
	if len(s.Config) == 0 && len(s.Branches) == 0 && !s.IsLoop {
		return s.Type
	}

	body := NewOrderedMap()
	for _, k := range s.ConfigOrder {
		body.Set(k, s.Config[k])
	}
	for _, edge := range s.BranchOrder {
		program := s.Branches[edge]
		var value any
		if len(program) == 1 {
			value = program[0].expression()
		} else {
			exprs := make([]any, len(program))
			for i, child := range program {
				exprs[i] = child.expression()
			}
			value = exprs
		}
		body.Set(edge+edgeQuerySuffix, value)
	}

	key := s.Type
	if s.IsLoop {
		key += loopMarker
	}
	expr := NewOrderedMap()
	expr.Set(key, body)
	return expr
}
