// Package lower implements the Loom lowering-pass engine: a visitor/rewrite
// protocol over the program tree, a per-pass remapping table from old
// declarations to their lowered replacements, the composite-value flattening
// and composition algorithms, deferred temporary placement, and the pass
// scheduler contract.
//
// The engine is single-threaded by design: passes run strictly sequentially
// over a tree the engine exclusively owns, and every internal-consistency
// failure is fatal to the run. A silent recovery here would risk a
// miscompile, so nothing below ever coerces a structural mismatch.
package lower

import (
	"fmt"

	"github.com/loom-ir/loom/internal/diagnostic"
	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/position"
	"github.com/loom-ir/loom/internal/tree"
)

// Context carries the state of one pass run over one compilation unit: the
// arena and type registry, the remapping table, and the bookkeeping of
// temporaries that still need declarations. It is pass-local and never shared
// across units.
type Context struct {
	Arena *tree.Arena
	Types *layout.Registry
	Remap *RemapTable

	// temps holds, per enclosing function, the temporaries registered during
	// flattening; DrainTemps places their declarations after the function's
	// lowering completes. pending indexes the same temporaries by symbol
	// while their declarations are not placed yet.
	temps   map[tree.NodeID][]*Temp
	pending map[tree.SymbolID]*Temp

	// names holds per-declaration counters so generated names are
	// reproducible across runs on identical input.
	names map[tree.NodeID]int

	// forwarders caches synthesized forwarding functions per target symbol so
	// every reference to the same lowered function shares one forwarder.
	forwarders map[tree.SymbolID]tree.SymbolID
}

// NewContext creates a fresh pass context over the given arena and registry.
func NewContext(a *tree.Arena, types *layout.Registry) *Context {
	return &Context{
		Arena:      a,
		Types:      types,
		Remap:      NewRemapTable(),
		temps:      make(map[tree.NodeID][]*Temp),
		pending:    make(map[tree.SymbolID]*Temp),
		names:      make(map[tree.NodeID]int),
		forwarders: make(map[tree.SymbolID]tree.SymbolID),
	}
}

// nextName generates a deterministic name with the given prefix, scoped to
// the declaration owner.
func (cx *Context) nextName(owner tree.NodeID, prefix string) string {
	cx.names[owner]++
	return fmt.Sprintf("%s%d", prefix, cx.names[owner])
}

// ice raises an internal-consistency error identifying the offending node by
// its rendered form. These are fatal: the transformation is deterministic and
// a retry would fail identically.
func (cx *Context) ice(code string, at tree.NodeID, format string, args ...interface{}) error {
	rendered := ""
	var span position.Span
	if n := cx.Arena.Node(at); n != nil {
		rendered = tree.Render(cx.Arena, cx.Types, at)
		span = n.Span
	}
	return diagnostic.Internalf(code, span, rendered, format, args...)
}

// Scope is the context threaded from parent to child during traversal; it
// answers "which declaration am I nested in".
type Scope struct {
	Parent *Scope
	Decl   tree.NodeID
}

// Function returns the nearest enclosing function declaration, or NoNode.
func (s *Scope) Function(a *tree.Arena) tree.NodeID {
	for cur := s; cur != nil; cur = cur.Parent {
		if a.Kind(cur.Decl) == tree.KindFunction {
			return cur.Decl
		}
	}
	return tree.NoNode
}
