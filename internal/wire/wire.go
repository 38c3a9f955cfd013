// Package wire serializes compilation units to a portable binary form. The
// encoding is canonical CBOR, so identical units produce identical bytes and
// dumps are usable as golden test fixtures.
package wire

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
	"github.com/fxamacker/cbor/v2"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// FormatVersion is the version written into every document.
const FormatVersion = "1.0.0"

// formatConstraint gates loading: any 1.x document is readable.
const formatConstraint = "^1.0"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Document is the serialized form of one compilation unit: the arena tables,
// the type registry, and the root node.
type Document struct {
	Format  string        `cbor:"format"`
	Root    tree.NodeID   `cbor:"root"`
	Nodes   []tree.Node   `cbor:"nodes"`
	Symbols []tree.Symbol `cbor:"symbols"`
	Types   []TypeDef     `cbor:"types"`
}

// TypeDef is one registry entry. Scalars have no components; composites
// reference component types by name, so documents stay readable regardless
// of the numeric IDs a registry happened to assign.
type TypeDef struct {
	Name       string         `cbor:"name"`
	Components []ComponentDef `cbor:"components,omitempty"`
}

// ComponentDef is one component of a composite TypeDef.
type ComponentDef struct {
	Name string `cbor:"name"`
	Type string `cbor:"type"`
}

// Marshal serializes the unit rooted at root to canonical CBOR.
func Marshal(a *tree.Arena, types *layout.Registry, root tree.NodeID) ([]byte, error) {
	nodes, syms := a.Snapshot()

	all := types.All()
	defs := make([]TypeDef, len(all))
	for i, t := range all {
		def := TypeDef{Name: t.Name}
		for _, c := range t.Components {
			def.Components = append(def.Components, ComponentDef{
				Name: c.Name,
				Type: types.Name(c.Type),
			})
		}
		defs[i] = def
	}

	doc := Document{
		Format:  FormatVersion,
		Root:    root,
		Nodes:   nodes,
		Symbols: syms,
		Types:   defs,
	}
	data, err := cborEncMode.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal unit: %w", err)
	}
	return data, nil
}

// Unmarshal rebuilds a unit from its serialized form. The document format
// version is checked against the supported constraint before anything else
// is touched.
func Unmarshal(data []byte) (*tree.Arena, *layout.Registry, tree.NodeID, error) {
	var doc Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, nil, tree.NoNode, fmt.Errorf("wire: unmarshal unit: %w", err)
	}

	if err := checkFormat(doc.Format); err != nil {
		return nil, nil, tree.NoNode, err
	}

	types, err := rebuildRegistry(doc.Types)
	if err != nil {
		return nil, nil, tree.NoNode, err
	}

	a, err := tree.Restore(doc.Nodes, doc.Symbols)
	if err != nil {
		return nil, nil, tree.NoNode, fmt.Errorf("wire: %w", err)
	}
	if a.Kind(doc.Root) != tree.KindUnit {
		return nil, nil, tree.NoNode, fmt.Errorf("wire: document root %d is not a unit", doc.Root)
	}
	return a, types, doc.Root, nil
}

func checkFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("wire: bad format version %q: %w", format, err)
	}
	c, err := semver.NewConstraint(formatConstraint)
	if err != nil {
		return fmt.Errorf("wire: bad format constraint: %w", err)
	}
	if !c.Check(v) {
		return fmt.Errorf("wire: unsupported format version %s, need %s", format, formatConstraint)
	}
	return nil
}

// rebuildRegistry re-registers the document's types in order. Registration
// order determines IDs, so node type references stay valid as long as the
// document was written against the same ordering, which Marshal guarantees.
func rebuildRegistry(defs []TypeDef) (*layout.Registry, error) {
	types := layout.NewRegistry()
	for _, def := range defs {
		if len(def.Components) == 0 {
			if _, err := types.AddScalar(def.Name); err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
			continue
		}
		comps := make([]layout.Component, len(def.Components))
		for i, c := range def.Components {
			id, ok := types.Lookup(c.Type)
			if !ok {
				return nil, fmt.Errorf("wire: composite %q references unknown type %q", def.Name, c.Type)
			}
			comps[i] = layout.Component{Name: c.Name, Type: id}
		}
		if _, err := types.AddComposite(def.Name, comps); err != nil {
			return nil, fmt.Errorf("wire: %w", err)
		}
	}
	return types, nil
}
