package flow

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// typeIdent constrains node type identifiers: lowercase, digit, hyphen
// and underscore separators ("print-random-number", "loop_node").
var typeIdent = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// edgeIdent constrains edge names: identifier-shaped, snake_case or
// camelCase ("success", "clientError", "again").
var edgeIdent = regexp.MustCompile(`^[a-z][A-Za-z0-9_]*$`)

// Registry maps node type identifiers to factories and descriptors.
//
// An Engine owns exactly one Registry reference; the registry is not a
// process singleton. Registration normally happens at startup, but late
// registrations are race-safe. Lookups after startup are read-locked and
// cheap.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

type registration struct {
	desc    Descriptor
	factory Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register stores a node type under its identifier.
//
// Registering the same identifier at the same version is idempotent.
// Registering an existing identifier at a different version returns
// ErrDuplicateRegistration. The descriptor must declare at least one
// edge, and all names must be identifier-shaped.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.Type == "" {
		return fmt.Errorf("node type identifier cannot be empty")
	}
	if !typeIdent.MatchString(desc.Type) {
		return fmt.Errorf("node type %q is not identifier-shaped", desc.Type)
	}
	if factory == nil {
		return fmt.Errorf("node type %q: factory cannot be nil", desc.Type)
	}
	if len(desc.Edges) == 0 {
		return fmt.Errorf("node type %q declares no edges", desc.Type)
	}
	for _, e := range desc.Edges {
		if !edgeIdent.MatchString(e) {
			return fmt.Errorf("node type %q: edge name %q is not identifier-shaped", desc.Type, e)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[desc.Type]; ok {
		if existing.desc.Version == desc.Version {
			return nil
		}
		return fmt.Errorf("node type %q already registered at version %q (attempted %q): %w",
			desc.Type, existing.desc.Version, desc.Version, ErrDuplicateRegistration)
	}

	r.entries[desc.Type] = registration{desc: desc, factory: factory}
	return nil
}

// Lookup returns the descriptor registered under identifier, or
// ErrNotFound.
func (r *Registry) Lookup(identifier string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[identifier]
	if !ok {
		return Descriptor{}, fmt.Errorf("node type %q: %w", identifier, ErrNotFound)
	}
	return entry.desc, nil
}

// Create yields a fresh node instance bound to its descriptor.
func (r *Registry) Create(identifier string) (Node, Descriptor, error) {
	r.mu.RLock()
	entry, ok := r.entries[identifier]
	r.mu.RUnlock()

	if !ok {
		return nil, Descriptor{}, fmt.Errorf("node type %q: %w", identifier, ErrNotFound)
	}
	return entry.factory(), entry.desc, nil
}

// Types returns the registered identifiers, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
