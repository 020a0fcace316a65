package flow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the mutable key/value bag shared by every step of one run.
//
// Keys and values are free-form by design; node bodies are independently
// authored and coordinate through conventions, not schemas. Keys with a
// leading underscore are reserved for engine internals (loop bookkeeping,
// service injection) and never appear in the public final state.
type State map[string]any

// reservedPrefix marks keys owned by the engine.
const reservedPrefix = "_"

// servicesKey is the reserved slot holding the injected service collection.
const servicesKey = "_services"

// loopKeyPrefix prefixes the per-instance loop bookkeeping keys.
const loopKeyPrefix = "_loop_"

// LoopStateKey returns the reserved state key under which a re-entrant
// node instance keeps its iteration bookkeeping. The engine clears this
// key when the loop is entered and when it exits cleanly; the node body
// owns the meaning of the stored value.
func LoopStateKey(instanceID string) string {
	return loopKeyPrefix + instanceID
}

// NewState builds the state for a run: the workflow's initial state is
// deep-cloned, then caller-supplied overrides are cloned and merged on
// top, overriding on key collision.
func NewState(initial, overrides map[string]any) (State, error) {
	s := make(State, len(initial)+len(overrides))
	for k, v := range initial {
		cv, err := deepCopy(v)
		if err != nil {
			return nil, fmt.Errorf("clone initial state key %q: %w", k, err)
		}
		s[k] = cv
	}
	for k, v := range overrides {
		cv, err := deepCopy(v)
		if err != nil {
			return nil, fmt.Errorf("clone override key %q: %w", k, err)
		}
		s[k] = cv
	}
	return s, nil
}

// Lookup resolves a dotted path ("profile.settings.theme") against the
// state. Intermediate segments must be map[string]any values. Returns the
// value and whether the full path resolved.
func (s State) Lookup(path string) (any, bool) {
	return lookupPath(map[string]any(s), path)
}

// Public returns a copy of the state with all reserved (underscore
// prefixed) keys removed. This is the view handed back to callers.
func (s State) Public() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		if strings.HasPrefix(k, reservedPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Service retrieves a named entry from the injected service collection,
// if one was placed under the reserved services key before the run began.
func (s State) Service(name string) (any, bool) {
	raw, ok := s[servicesKey]
	if !ok {
		return nil, false
	}
	services, ok := raw.(map[string]any)
	if !ok {
		return nil, false
	}
	svc, ok := services[name]
	return svc, ok
}

// lookupPath walks a dot-delimited path through nested map[string]any.
func lookupPath(root map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// deepCopy clones a value via a JSON round trip.
//
// This works for anything JSON-representable, which is exactly the domain
// of workflow state and config values. Channels, funcs, and cycles are
// not supported and surface as marshal errors.
func deepCopy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	var copied any
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return copied, nil
}

// deepCopyMap clones a string-keyed map via a JSON round trip.
func deepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}
	copied := make(map[string]any, len(m))
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal map: %w", err)
	}
	return copied, nil
}
