package flow

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func testNode(edge string) Factory {
	return func() Node {
		return NodeFunc(func(_ context.Context, _ *Context, _ map[string]any) (EdgeMap, error) {
			return Emit(edge, nil), nil
		})
	}
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{Type: "echo", Version: "1.0.0", Edges: []string{"success"}}

	if err := r.Register(desc, testNode("success")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.Type != "echo" || !got.EmitsEdge("success") {
		t.Errorf("Lookup() = %+v", got)
	}

	node, desc2, err := r.Create("echo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if node == nil || desc2.Type != "echo" {
		t.Errorf("Create() node = %v, desc = %+v", node, desc2)
	}
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Lookup("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(ghost) error = %v, want ErrNotFound", err)
	}
	if _, _, err := r.Create("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Create(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	desc := Descriptor{Type: "echo", Version: "1.0.0", Edges: []string{"success"}}
	if err := r.Register(desc, testNode("success")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	t.Run("same version is idempotent", func(t *testing.T) {
		if err := r.Register(desc, testNode("success")); err != nil {
			t.Errorf("re-register same version error = %v, want nil", err)
		}
	})

	t.Run("different version rejected", func(t *testing.T) {
		bumped := desc
		bumped.Version = "2.0.0"
		err := r.Register(bumped, testNode("success"))
		if !errors.Is(err, ErrDuplicateRegistration) {
			t.Errorf("re-register new version error = %v, want ErrDuplicateRegistration", err)
		}
	})
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"empty type", Descriptor{Type: "", Edges: []string{"success"}}},
		{"uppercase type", Descriptor{Type: "BadName", Edges: []string{"success"}}},
		{"leading digit", Descriptor{Type: "9node", Edges: []string{"success"}}},
		{"no edges", Descriptor{Type: "edgeless"}},
		{"bad edge name", Descriptor{Type: "node", Edges: []string{"Not-Valid"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.desc, testNode("success")); err == nil {
				t.Errorf("Register(%+v) expected error, got nil", tt.desc)
			}
		})
	}

	t.Run("nil factory", func(t *testing.T) {
		desc := Descriptor{Type: "node", Edges: []string{"success"}}
		if err := r.Register(desc, nil); err == nil {
			t.Errorf("Register with nil factory expected error")
		}
	})
}

func TestRegistryTypesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		desc := Descriptor{Type: name, Version: "1.0.0", Edges: []string{"success"}}
		if err := r.Register(desc, testNode("success")); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := r.Types(); !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
}
