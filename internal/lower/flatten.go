package lower

import (
	"strings"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/position"
	"github.com/loom-ir/loom/internal/tree"
)

// Mode selects the flattening safety policy. The zero value is ModeSafe.
type Mode int

const (
	// ModeSafe captures every non-repeatable flattened sub-expression into a
	// fresh temporary, so the original evaluation order and exception points
	// are preserved exactly and no write target is observable half
	// initialized.
	ModeSafe Mode = iota

	// ModeUnsafe skips the capture temporaries that hide partially written
	// state. Evaluation order is still preserved: leaves gathered before a
	// later prelude are pinned in both modes. Only valid where the result is
	// never observable mid-initialization, such as a constructor writing its
	// own fields.
	ModeUnsafe
)

func (m Mode) String() string {
	if m == ModeUnsafe {
		return "unsafe"
	}
	return "safe"
}

// Flatten decomposes expr, of composite type t, into exactly leafCount(t)
// leaf expressions plus a prelude of statements to run first. owner is the
// enclosing function; temporaries created here are registered under it and
// placed later by DrainTemps.
//
// Constructions decompose structurally with no materialized value;
// conditionals and try expressions route every arm through shared target
// temporaries; anything else is opaque and is evaluated once into a boxed
// temporary whose leaves are then read through unboxing accessors.
func (cx *Context) Flatten(owner, expr tree.NodeID, t layout.TypeID, mode Mode) ([]tree.NodeID, []tree.NodeID, error) {
	var prelude []tree.NodeID
	leaves, err := cx.flatten(owner, expr, t, mode, &prelude)
	if err != nil {
		return nil, nil, err
	}
	if mode == ModeSafe {
		cx.captureLeaves(owner, &prelude, leaves)
	}
	if want := cx.Types.LeafCount(t); len(leaves) != want {
		return nil, nil, cx.ice("E3020", expr, "flattening of %s produced %d leaves, want %d",
			cx.Types.Name(t), len(leaves), want)
	}
	return prelude, leaves, nil
}

func (cx *Context) flatten(owner, expr tree.NodeID, t layout.TypeID, mode Mode, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	a := cx.Arena
	n := a.Node(expr)
	if n == nil {
		return nil, cx.ice("E3021", tree.NoNode, "flattening of a dangling node")
	}

	if !cx.Types.IsComposite(t) {
		return []tree.NodeID{expr}, nil
	}

	switch {
	case n.Kind == tree.KindConstruct && n.Type == t:
		return cx.flattenConstruct(owner, expr, t, mode, prelude)

	case n.Kind == tree.KindIf && len(n.Kids) == 3:
		return cx.flattenIf(owner, expr, t, mode, prelude)

	case n.Kind == tree.KindTry:
		return cx.flattenTry(owner, expr, t, mode, prelude)

	case n.Kind == tree.KindBlock && len(n.Kids) > 0:
		return cx.flattenBlock(owner, expr, t, mode, prelude)

	default:
		return cx.flattenOpaque(owner, expr, t, prelude)
	}
}

// flattenConstruct decomposes a matching construction argument by argument.
// No instance of t is ever materialized. When a later argument contributes
// prelude statements, the leaves gathered so far are pinned into temporaries
// first, so their evaluation still precedes those statements.
func (cx *Context) flattenConstruct(owner, expr tree.NodeID, t layout.TypeID, mode Mode, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	ty := cx.Types.Get(t)
	kids := cx.Arena.Kids(expr)
	if len(kids) != len(ty.Components) {
		return nil, cx.ice("E3022", expr, "construction of %s has %d arguments for %d components",
			ty.Name, len(kids), len(ty.Components))
	}

	var leaves []tree.NodeID
	for i, kid := range kids {
		var sub []tree.NodeID
		subLeaves, err := cx.flatten(owner, kid, ty.Components[i].Type, mode, &sub)
		if err != nil {
			return nil, err
		}
		if len(sub) > 0 {
			cx.captureLeaves(owner, prelude, leaves)
		}
		*prelude = append(*prelude, sub...)
		leaves = append(leaves, subLeaves...)
	}
	return leaves, nil
}

// flattenIf routes both branches through shared target temporaries. The
// condition stays an eager boolean inside the rewritten conditional, which
// joins the prelude as a statement.
func (cx *Context) flattenIf(owner, expr tree.NodeID, t layout.TypeID, mode Mode, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	a := cx.Arena
	kids := a.Kids(expr)
	targets := cx.newTargets(owner, t)

	thenArm, err := cx.flattenArm(owner, kids[1], t, mode, targets)
	if err != nil {
		return nil, err
	}
	elseArm, err := cx.flattenArm(owner, kids[2], t, mode, targets)
	if err != nil {
		return nil, err
	}

	*prelude = append(*prelude, a.If(layout.NoType, kids[0], thenArm, elseArm))
	return cx.targetReads(targets, t), nil
}

// flattenTry routes the try result and every catch result through shared
// target temporaries. The finally arm, if present, carries no value and is
// kept as an ordinary side-effecting block.
func (cx *Context) flattenTry(owner, expr tree.NodeID, t layout.TypeID, mode Mode, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	a := cx.Arena
	n := a.Node(expr)
	catches := int(n.Int64)
	kids := append([]tree.NodeID(nil), n.Kids...)
	targets := cx.newTargets(owner, t)

	body, err := cx.flattenArm(owner, kids[0], t, mode, targets)
	if err != nil {
		return nil, err
	}

	newCatches := make([]tree.NodeID, catches)
	for i := 0; i < catches; i++ {
		cn := a.Node(kids[1+i])
		handler, err := cx.flattenArm(owner, cn.Kids[0], t, mode, targets)
		if err != nil {
			return nil, err
		}
		newCatches[i] = a.Catch(cn.Sym, handler)
	}

	finally := tree.NoNode
	if len(kids) > 1+catches {
		finally = kids[len(kids)-1]
	}

	*prelude = append(*prelude, a.Try(layout.NoType, body, newCatches, finally))
	return cx.targetReads(targets, t), nil
}

// flattenBlock hoists the block's leading statements into the prelude and
// flattens its trailing value in place.
func (cx *Context) flattenBlock(owner, expr tree.NodeID, t layout.TypeID, mode Mode, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	kids := cx.Arena.Kids(expr)
	*prelude = append(*prelude, kids[:len(kids)-1]...)
	return cx.flatten(owner, kids[len(kids)-1], t, mode, prelude)
}

// flattenOpaque evaluates expr exactly once into an immutable boxed
// temporary and reads its leaves back through unboxing component accessors.
// The accessor reads are repeatable, so safe mode never re-captures them.
func (cx *Context) flattenOpaque(owner, expr tree.NodeID, t layout.TypeID, prelude *[]tree.NodeID) ([]tree.NodeID, error) {
	a := cx.Arena

	// A read that is already repeatable needs no box: unboxing it per leaf
	// observes the same value every time.
	src := tree.NoSymbol
	if n := a.Node(expr); n.Kind == tree.KindRead && len(n.Kids) == 0 && cx.isRepeatable(expr) {
		src = n.Sym
	} else {
		box := cx.NewTemp(owner, t, tree.FlagImmutable)
		*prelude = append(*prelude, a.Write(box.Sym, expr))
		src = box.Sym
	}

	layoutLeaves := cx.Types.Leaves(t)
	leaves := make([]tree.NodeID, len(layoutLeaves))
	for i, lf := range layoutLeaves {
		recv := a.Read(t, src)
		leaves[i] = a.Component(lf.Type, recv, strings.Join(lf.Path, "."))
	}
	return leaves, nil
}

// flattenArm flattens one branch of a conditional or try and rebuilds it as
// a block ending in writes of the shared target temporaries.
func (cx *Context) flattenArm(owner, arm tree.NodeID, t layout.TypeID, mode Mode, targets []*Temp) (tree.NodeID, error) {
	a := cx.Arena
	var p []tree.NodeID
	leaves, err := cx.flatten(owner, arm, t, mode, &p)
	if err != nil {
		return tree.NoNode, err
	}
	if mode == ModeSafe {
		cx.captureLeaves(owner, &p, leaves)
	}
	for i, tmp := range targets {
		p = append(p, a.Write(tmp.Sym, leaves[i]))
	}
	return a.Block(layout.NoType, p...), nil
}

// newTargets creates one shared target temporary per leaf of t. The targets
// are written once per arm and never after, so reads of them count as
// repeatable.
func (cx *Context) newTargets(owner tree.NodeID, t layout.TypeID) []*Temp {
	leaves := cx.Types.Leaves(t)
	targets := make([]*Temp, len(leaves))
	for i, lf := range leaves {
		targets[i] = cx.NewTemp(owner, lf.Type, tree.FlagImmutable)
	}
	return targets
}

func (cx *Context) targetReads(targets []*Temp, t layout.TypeID) []tree.NodeID {
	leaves := cx.Types.Leaves(t)
	out := make([]tree.NodeID, len(targets))
	for i, tmp := range targets {
		out[i] = cx.Arena.Read(leaves[i].Type, tmp.Sym)
	}
	return out
}

// captureLeaves pins every non-repeatable leaf expression into a fresh
// temporary, in left-to-right order, replacing the leaf with a read of the
// temporary. Repeatable leaves stay uncaptured.
func (cx *Context) captureLeaves(owner tree.NodeID, prelude *[]tree.NodeID, leaves []tree.NodeID) {
	a := cx.Arena
	for i, leaf := range leaves {
		if cx.isRepeatable(leaf) {
			continue
		}
		t := a.Node(leaf).Type
		tmp := cx.NewTemp(owner, t, tree.FlagImmutable)
		*prelude = append(*prelude, a.Write(tmp.Sym, leaf))
		leaves[i] = a.Read(t, tmp.Sym)
	}
}

// isRepeatable reports whether re-evaluating the expression is guaranteed to
// yield the same value with no observable effect: literals, reads of
// immutable declarations, and unboxing reads through such values.
func (cx *Context) isRepeatable(id tree.NodeID) bool {
	a := cx.Arena
	n := a.Node(id)
	if n == nil {
		return false
	}
	switch n.Kind {
	case tree.KindConst, tree.KindFuncRef:
		return true

	case tree.KindRead:
		if len(n.Kids) != 0 {
			return false
		}
		if tmp, ok := cx.pending[n.Sym]; ok {
			return tmp.Flags.Has(tree.FlagImmutable)
		}
		decl := a.Node(a.Decl(n.Sym))
		return decl != nil && decl.Flags.Has(tree.FlagImmutable)

	case tree.KindComponent:
		return cx.isRepeatable(n.Kids[0])

	default:
		return false
	}
}

// Compose is the inverse of Flatten: it rebuilds a construction of t from
// exactly leafCount(t) leaf expressions, recursing into composite
// components. Evaluation order of the leaves is preserved.
func (cx *Context) Compose(t layout.TypeID, leaves []tree.NodeID) (tree.NodeID, error) {
	if want := cx.Types.LeafCount(t); len(leaves) != want {
		return tree.NoNode, cx.ice("E3023", tree.NoNode, "composition of %s given %d leaves, want %d",
			cx.Types.Name(t), len(leaves), want)
	}
	if !cx.Types.IsComposite(t) {
		return leaves[0], nil
	}

	ty := cx.Types.Get(t)
	args := make([]tree.NodeID, len(ty.Components))
	off := 0
	for i, comp := range ty.Components {
		n := cx.Types.LeafCount(comp.Type)
		arg, err := cx.Compose(comp.Type, leaves[off:off+n])
		if err != nil {
			return tree.NoNode, err
		}
		args[i] = arg
		off += n
	}
	id := cx.Arena.Construct(t, args...)
	cx.Arena.Node(id).Span = spanOver(cx.Arena, args)
	return id, nil
}

// spanOver unions the spans of the nodes a synthesized node stands in for.
func spanOver(a *tree.Arena, ids []tree.NodeID) position.Span {
	var sp position.Span
	for _, id := range ids {
		if n := a.Node(id); n != nil {
			sp = sp.Union(n.Span)
		}
	}
	return sp
}
