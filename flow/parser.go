package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser lowers workflow JSON into a validated AST.
//
// The parser is total over well-formed input: every step expression in
// the source appears in the AST, in authored order. Validation against
// the registry happens during lowering, so an AST always references
// registered node types and declared edges.
type Parser struct {
	registry *Registry
}

// NewParser returns a parser validating against the given registry.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Parse decodes and lowers a workflow definition. All errors are
// *ParseError values carrying a path pointer into the source document.
func (p *Parser) Parse(data []byte) (*Workflow, error) {
	decoded, err := DecodeOrdered(data)
	if err != nil {
		return nil, &ParseError{Code: CodeMalformedJSON, Message: err.Error(), Cause: err}
	}

	root, ok := decoded.(*OrderedMap)
	if !ok {
		return nil, &ParseError{Code: CodeBadShape, Path: "/", Message: "workflow definition must be a JSON object"}
	}

	wf := &Workflow{}
	if wf.ID, err = optionalString(root, "id"); err != nil {
		return nil, err
	}
	if wf.Name, err = optionalString(root, "name"); err != nil {
		return nil, err
	}
	if wf.Version, err = optionalString(root, "version"); err != nil {
		return nil, err
	}

	if raw, ok := root.Get("initialState"); ok {
		om, ok := raw.(*OrderedMap)
		if !ok {
			return nil, &ParseError{Code: CodeBadShape, Path: "/initialState", Message: "initialState must be an object"}
		}
		wf.InitialState = toPlain(om).(map[string]any)
	}

	rawWorkflow, ok := root.Get("workflow")
	if !ok {
		return nil, &ParseError{Code: CodeMissingWorkflow, Path: "/", Message: "missing required \"workflow\" sequence"}
	}

	steps, err := p.parseProgram(rawWorkflow, "/workflow", "")
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

// optionalString reads an optional top-level string field.
func optionalString(m *OrderedMap, key string) (string, error) {
	raw, ok := m.Get(key)
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ParseError{Code: CodeBadShape, Path: "/" + key, Message: fmt.Sprintf("%q must be a string", key)}
	}
	return s, nil
}

// expr is a located step expression awaiting lowering.
type expr struct {
	value any
	path  string
}

// parseProgram lowers a sequence of step expressions. The input may be a
// JSON array (explicit sequence), a multi-key object (implicit sequence
// in insertion order), or a single step expression. Instance identifiers
// are ordinals within the flattened program, dot-joined onto idPrefix.
func (p *Parser) parseProgram(v any, path, idPrefix string) ([]*Step, error) {
	exprs, err := p.flatten(v, path)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return nil, &ParseError{Code: CodeBadShape, Path: path, Message: "sequence must contain at least one step"}
	}

	steps := make([]*Step, 0, len(exprs))
	for i, ex := range exprs {
		id := strconv.Itoa(i)
		if idPrefix != "" {
			id = idPrefix + "." + id
		}
		step, err := p.parseStep(ex.value, ex.path, id)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// flatten expands sequence sugar into an ordered list of single step
// expressions without descending into node configs.
func (p *Parser) flatten(v any, path string) ([]expr, error) {
	switch t := v.(type) {
	case []any:
		var out []expr
		for i, item := range t {
			sub, err := p.flatten(item, fmt.Sprintf("%s/%d", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil

	case string:
		return []expr{{value: t, path: path}}, nil

	case *OrderedMap:
		if t.Len() == 0 {
			return nil, &ParseError{Code: CodeBadShape, Path: path, Message: "step expression must not be an empty object"}
		}
		if t.Len() == 1 {
			return []expr{{value: t, path: path}}, nil
		}
		// Implicit sequence: each key is itself a step-shaped expression.
		out := make([]expr, 0, t.Len())
		for _, key := range t.Keys() {
			if strings.HasSuffix(key, edgeQuerySuffix) {
				return nil, &ParseError{
					Code: CodeAmbiguousBranch, Path: path + "/" + key,
					Message: "edge query key in sequence position; edge branches belong inside a node's config",
				}
			}
			value, _ := t.Get(key)
			single := NewOrderedMap()
			single.Set(key, value)
			out = append(out, expr{value: single, path: path + "/" + key})
		}
		return out, nil

	default:
		return nil, &ParseError{Code: CodeBadShape, Path: path, Message: fmt.Sprintf("step expression must be a string, object, or array; got %T", v)}
	}
}

// parseStep lowers one step expression into an AST node and validates it
// against the registry.
func (p *Parser) parseStep(v any, path, instanceID string) (*Step, error) {
	switch t := v.(type) {
	case string:
		nodeType, isLoop := stripLoopMarker(t)
		if _, err := p.registry.Lookup(nodeType); err != nil {
			return nil, &ParseError{Code: CodeUnknownNodeType, Path: path, Message: fmt.Sprintf("unknown node type %q", nodeType), Cause: err}
		}
		if isLoop {
			// Same check the mapping form applies: a loop with no
			// branches terminates immediately on every edge.
			return nil, &ParseError{
				Code: CodeLoopWithoutBody, Path: path,
				Message: fmt.Sprintf("loop node %q has no edge branches; it would terminate immediately on every edge", nodeType),
			}
		}
		return &Step{InstanceID: instanceID, Type: nodeType, IsLoop: isLoop}, nil

	case *OrderedMap:
		if t.Len() != 1 {
			return nil, &ParseError{Code: CodeBadShape, Path: path, Message: "step object must have exactly one key"}
		}
		key := t.Keys()[0]
		rawBody, _ := t.Get(key)
		body, ok := rawBody.(*OrderedMap)
		if !ok {
			return nil, &ParseError{Code: CodeBadConfig, Path: path + "/" + key, Message: "node config must be an object"}
		}
		return p.parseNode(key, body, path+"/"+key, instanceID)

	default:
		return nil, &ParseError{Code: CodeBadShape, Path: path, Message: fmt.Sprintf("step expression must be a string or object; got %T", v)}
	}
}

// parseNode splits a node's body into plain config entries and edge
// branches, recursing into branch subgraphs.
func (p *Parser) parseNode(key string, body *OrderedMap, path, instanceID string) (*Step, error) {
	nodeType, isLoop := stripLoopMarker(key)

	desc, err := p.registry.Lookup(nodeType)
	if err != nil {
		return nil, &ParseError{Code: CodeUnknownNodeType, Path: path, Message: fmt.Sprintf("unknown node type %q", nodeType), Cause: err}
	}

	step := &Step{
		InstanceID: instanceID,
		Type:       nodeType,
		IsLoop:     isLoop,
		Config:     make(map[string]any),
		Branches:   make(map[string][]*Step),
	}

	for _, bodyKey := range body.Keys() {
		value, _ := body.Get(bodyKey)

		if !strings.HasSuffix(bodyKey, edgeQuerySuffix) {
			step.Config[bodyKey] = toPlain(value)
			step.ConfigOrder = append(step.ConfigOrder, bodyKey)
			continue
		}

		edge := strings.TrimSuffix(bodyKey, edgeQuerySuffix)
		branchPath := path + "/" + bodyKey
		if !desc.EmitsEdge(edge) {
			return nil, &ParseError{
				Code: CodeUnknownEdge, Path: branchPath,
				Message: fmt.Sprintf("node type %q does not declare edge %q (declares %v)", nodeType, edge, desc.Edges),
			}
		}
		if isEdgeQueryOnlyMapping(value) {
			return nil, &ParseError{
				Code: CodeAmbiguousBranch, Path: branchPath,
				Message: "branch value contains only edge query keys; nest them under a node instead",
			}
		}
		branch, err := p.parseProgram(value, branchPath, instanceID+"."+edge)
		if err != nil {
			return nil, err
		}
		step.Branches[edge] = branch
		step.BranchOrder = append(step.BranchOrder, edge)
	}

	if isLoop {
		if len(step.Branches) == 0 {
			return nil, &ParseError{
				Code: CodeLoopWithoutBody, Path: path,
				Message: fmt.Sprintf("loop node %q has no edge branches; it would terminate immediately on every edge", nodeType),
			}
		}
		if len(step.Branches) >= len(desc.Edges) {
			return nil, &ParseError{
				Code: CodeLoopWithoutExit, Path: path,
				Message: fmt.Sprintf("loop node %q wires a branch to every declared edge; it can never exit", nodeType),
			}
		}
	}

	return step, nil
}

// stripLoopMarker removes a trailing loop marker, reporting whether one
// was present. Both the canonical "…" and the ASCII "..." are accepted.
func stripLoopMarker(key string) (string, bool) {
	if strings.HasSuffix(key, loopMarker) {
		return strings.TrimSuffix(key, loopMarker), true
	}
	if strings.HasSuffix(key, loopMarkerASCII) {
		return strings.TrimSuffix(key, loopMarkerASCII), true
	}
	return key, false
}

// isEdgeQueryOnlyMapping reports whether v is a non-empty object whose
// keys are all edge queries. Such a value at branch depth is ambiguous:
// the queries could read as branches of the parent or of a missing child.
func isEdgeQueryOnlyMapping(v any) bool {
	om, ok := v.(*OrderedMap)
	if !ok || om.Len() == 0 {
		return false
	}
	for _, k := range om.Keys() {
		if !strings.HasSuffix(k, edgeQuerySuffix) {
			return false
		}
	}
	return true
}
