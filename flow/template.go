package flow

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePrefix marks a string config value as a reference into the
// run's state or the current step's inputs.
const templatePrefix = "$."

// identSegment matches one dotted-path segment. Template references are
// plain dotted identifiers, not an expression language; anything else is
// rejected.
var identSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// isTemplateRef reports whether a config string is a template reference.
func isTemplateRef(s string) bool {
	return strings.HasPrefix(s, templatePrefix)
}

// resolveRef resolves a "$.dotted.path" reference against state first,
// then inputs. A reference whose path does not resolve yields nil; nodes
// that require the key perform their own validation. Malformed paths
// (empty segments, non-identifier characters) return an error.
func resolveRef(ref string, state State, inputs map[string]any) (any, error) {
	path := strings.TrimPrefix(ref, templatePrefix)
	if path == "" {
		return nil, fmt.Errorf("empty template reference %q", ref)
	}
	for _, seg := range strings.Split(path, ".") {
		if !identSegment.MatchString(seg) {
			return nil, fmt.Errorf("invalid template reference %q: segment %q is not an identifier", ref, seg)
		}
	}
	if v, ok := state.Lookup(path); ok {
		return v, nil
	}
	if v, ok := lookupPath(inputs, path); ok {
		return v, nil
	}
	return nil, nil
}

// resolveConfig deep-clones a node's config and substitutes template
// references against (state, inputs). Types pass through untouched: a
// reference to a number yields a number, a string yields a string. Nodes
// own any further conversion.
func resolveConfig(config map[string]any, state State, inputs map[string]any) (map[string]any, error) {
	if config == nil {
		return map[string]any{}, nil
	}
	cloned, err := deepCopyMap(config)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveValue(cloned, state, inputs)
	if err != nil {
		return nil, err
	}
	out, ok := resolved.(map[string]any)
	if !ok {
		// resolveValue preserves container types; this cannot happen.
		return nil, fmt.Errorf("resolved config is not a mapping")
	}
	return out, nil
}

// resolveValue walks a config value, substituting template references in
// strings while preserving container structure.
func resolveValue(v any, state State, inputs map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if isTemplateRef(t) {
			return resolveRef(t, state, inputs)
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			rv, err := resolveValue(val, state, inputs)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			rv, err := resolveValue(val, state, inputs)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
