// Package layout defines the type registry and composite leaf layouts used by
// the Loom lowering engine. A composite type occupies one logical slot before
// lowering and a fixed-arity ordered run of scalar leaves afterwards. The leaf
// count and leaf order of a composite type are fixed for the lifetime of a
// lowering run; every remapping of that type must expose exactly that many
// values, in that order.
package layout

import (
	"fmt"
	"strings"
)

// TypeID uniquely identifies a type within the registry.
type TypeID uint32

// NoType is the zero TypeID, used where no type applies.
const NoType TypeID = 0

// Kind represents the fundamental kind of a registered type.
type Kind int

const (
	KindInvalid Kind = iota
	KindScalar       // one atomic slot, not further decomposable
	KindComposite    // a fixed ordered list of components
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindComposite:
		return "composite"
	default:
		return "invalid"
	}
}

// Component is one named sub-slot of a composite type.
type Component struct {
	Name string
	Type TypeID
}

// Type describes a registered type. Components is empty for scalars.
type Type struct {
	ID         TypeID
	Name       string
	Kind       Kind
	Components []Component
}

// Leaf is one atomic slot of a composite type's flattened layout. Path holds
// the component names from the composite root down to the leaf.
type Leaf struct {
	Path []string
	Type TypeID
}

// String renders the leaf path in dotted form.
func (l Leaf) String() string {
	return strings.Join(l.Path, ".")
}

// Registry holds all types known to a lowering run. Registration is
// append-only: a composite's layout never changes once registered.
type Registry struct {
	types  []Type
	byName map[string]TypeID
	leaves map[TypeID][]Leaf // lazily computed flattened layouts
}

// NewRegistry creates an empty registry. TypeID 0 is reserved as invalid.
func NewRegistry() *Registry {
	return &Registry{
		types:  make([]Type, 1), // index 0 reserved
		byName: make(map[string]TypeID),
		leaves: make(map[TypeID][]Leaf),
	}
}

// AddScalar registers a scalar type and returns its ID.
func (r *Registry) AddScalar(name string) (TypeID, error) {
	if _, exists := r.byName[name]; exists {
		return NoType, fmt.Errorf("layout: type %q already registered", name)
	}

	id := TypeID(len(r.types))
	r.types = append(r.types, Type{ID: id, Name: name, Kind: KindScalar})
	r.byName[name] = id
	return id, nil
}

// AddComposite registers a composite type with the given ordered components.
// All component types must already be registered; a composite may nest other
// composites but cycles are rejected because a self-containing composite has
// no finite leaf layout.
func (r *Registry) AddComposite(name string, components []Component) (TypeID, error) {
	if _, exists := r.byName[name]; exists {
		return NoType, fmt.Errorf("layout: type %q already registered", name)
	}
	if len(components) == 0 {
		return NoType, fmt.Errorf("layout: composite %q must have at least one component", name)
	}

	seen := make(map[string]bool, len(components))
	for _, c := range components {
		if c.Name == "" {
			return NoType, fmt.Errorf("layout: composite %q has an unnamed component", name)
		}
		if seen[c.Name] {
			return NoType, fmt.Errorf("layout: composite %q has duplicate component %q", name, c.Name)
		}
		seen[c.Name] = true

		if !r.valid(c.Type) {
			return NoType, fmt.Errorf("layout: composite %q component %q references unknown type %d", name, c.Name, c.Type)
		}
	}

	id := TypeID(len(r.types))
	r.types = append(r.types, Type{ID: id, Name: name, Kind: KindComposite, Components: components})
	r.byName[name] = id
	return id, nil
}

// Get returns the type for the given ID, or nil if the ID is unknown.
func (r *Registry) Get(id TypeID) *Type {
	if !r.valid(id) {
		return nil
	}
	return &r.types[id]
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (TypeID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// IsComposite reports whether id names a registered composite type.
func (r *Registry) IsComposite(id TypeID) bool {
	t := r.Get(id)
	return t != nil && t.Kind == KindComposite
}

// LeafCount returns the number of atomic slots in the flattened layout of id.
// Scalars count as one leaf.
func (r *Registry) LeafCount(id TypeID) int {
	return len(r.Leaves(id))
}

// Leaves returns the canonical flattened layout of id, in component order.
// The result is cached; callers must not mutate it.
func (r *Registry) Leaves(id TypeID) []Leaf {
	if cached, ok := r.leaves[id]; ok {
		return cached
	}

	t := r.Get(id)
	if t == nil {
		return nil
	}

	var out []Leaf
	if t.Kind == KindScalar {
		out = []Leaf{{Path: nil, Type: id}}
	} else {
		for _, c := range t.Components {
			for _, sub := range r.Leaves(c.Type) {
				path := make([]string, 0, 1+len(sub.Path))
				path = append(path, c.Name)
				path = append(path, sub.Path...)
				out = append(out, Leaf{Path: path, Type: sub.Type})
			}
		}
	}

	r.leaves[id] = out
	return out
}

// ComponentRun returns the leaf range of the named component inside the
// flattened layout of id: the offset of its first leaf, the number of leaves
// it spans, and the component's own type.
func (r *Registry) ComponentRun(id TypeID, component string) (offset, length int, compType TypeID, ok bool) {
	t := r.Get(id)
	if t == nil || t.Kind != KindComposite {
		return 0, 0, NoType, false
	}

	off := 0
	for _, c := range t.Components {
		n := r.LeafCount(c.Type)
		if c.Name == component {
			return off, n, c.Type, true
		}
		off += n
	}
	return 0, 0, NoType, false
}

// All returns the registered types in registration order, excluding the
// reserved invalid slot. Callers must not mutate the result.
func (r *Registry) All() []Type {
	return r.types[1:]
}

// Name returns the registered name of id, or a placeholder for unknown IDs.
func (r *Registry) Name(id TypeID) string {
	t := r.Get(id)
	if t == nil {
		return fmt.Sprintf("<type#%d>", id)
	}
	return t.Name
}

func (r *Registry) valid(id TypeID) bool {
	return id != NoType && int(id) < len(r.types)
}
