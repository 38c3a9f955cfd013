// Package tree defines the mutable program tree the Loom lowering engine
// rewrites. Nodes live in an arena and are addressed by stable NodeIDs;
// parent links and symbol bindings are index lookups into the arena, so the
// graph stays a tree with weak symbol cross-references rather than an
// ownership cycle.
//
// Node kinds form a closed tagged union: a pass that switches over NodeKind
// handles every shape the engine can produce, and adding a kind is a
// compile-time-checked exercise across the switches in this module.
package tree

import (
	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/position"
)

// NodeID identifies a node in the arena. The zero value is NoNode.
type NodeID uint32

// SymbolID identifies a declaration independent of its tree position. The
// zero value is NoSymbol.
type SymbolID uint32

// NoNode is the invalid node ID.
const NoNode NodeID = 0

// NoSymbol is the invalid symbol ID.
const NoSymbol SymbolID = 0

// NodeKind enumerates every node shape in the tree.
type NodeKind int

const (
	KindInvalid NodeKind = iota

	// Declarations.
	KindUnit     // root; kids: top-level declarations
	KindClass    // kids: field declarations, then method functions
	KindFunction // kids: parameters, then the body block (last kid)
	KindParam
	KindLocal // kids: optional initializer
	KindField

	// Statements and expressions. Blocks are transparent composites: their
	// statements execute in order and their value is the value of the last.
	KindBlock
	KindConst
	KindRead      // kids: optional receiver (field read through a value)
	KindWrite     // kids: optional receiver, then the value (last kid)
	KindCall      // direct call via Sym, or indirect via kid 0 when Sym is NoSymbol
	KindConstruct // composite construction; one kid per component
	KindComponent // unboxing accessor; kids: receiver value, Str: dotted component path
	KindIf        // kids: condition, then, optional else
	KindTry       // kids: body, Int64 catch clauses, optional finally
	KindCatch     // kids: handler body; Sym optionally binds the exception
	KindThrow     // kids: thrown value
	KindReturn    // kids: optional value
	KindFuncRef   // first-class reference to the function named by Sym
)

func (k NodeKind) String() string {
	switch k {
	case KindUnit:
		return "unit"
	case KindClass:
		return "class"
	case KindFunction:
		return "func"
	case KindParam:
		return "param"
	case KindLocal:
		return "local"
	case KindField:
		return "field"
	case KindBlock:
		return "block"
	case KindConst:
		return "const"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindCall:
		return "call"
	case KindConstruct:
		return "construct"
	case KindComponent:
		return "component"
	case KindIf:
		return "if"
	case KindTry:
		return "try"
	case KindCatch:
		return "catch"
	case KindThrow:
		return "throw"
	case KindReturn:
		return "return"
	case KindFuncRef:
		return "funcref"
	default:
		return "invalid"
	}
}

// IsDecl reports whether the kind declares a symbol.
func (k NodeKind) IsDecl() bool {
	switch k {
	case KindUnit, KindClass, KindFunction, KindParam, KindLocal, KindField:
		return true
	default:
		return false
	}
}

// Flags carries per-node boolean attributes.
type Flags uint16

const (
	// FlagImmutable marks a param/local declaration whose value never changes
	// after initialization. Reads of immutable declarations are repeatable
	// and may stay uncaptured in safe-mode flattening.
	FlagImmutable Flags = 1 << iota

	// FlagConstructorInit is the origin tag on writes performed by a
	// constructor initializing its own fields. Only such writes may be
	// flattened in unsafe mode.
	FlagConstructorInit

	// FlagSynthetic marks declarations generated by the lowering engine
	// (temporaries, forwarding functions).
	FlagSynthetic
)

// Has reports whether all bits in f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Node is one tagged entity in the program tree. Which payload fields are
// meaningful depends on Kind; Kids are always in evaluation order.
type Node struct {
	Kind   NodeKind
	Flags  Flags
	Type   layout.TypeID // result/declared type
	Sym    SymbolID      // own symbol for decls, referenced symbol otherwise
	Parent NodeID
	Kids   []NodeID
	Name   string // declaration name, for rendering
	Int64  int64  // const payload; catch count for KindTry
	Str    string // string const payload
	Span   position.Span
}

// Symbol binds a stable identity to its current declaration node. The binding
// is updated by passes when a declaration is replaced; the SymbolID itself
// stays valid across replacement.
type Symbol struct {
	Name string
	Decl NodeID
}
