package lower

import (
	"strings"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// FlattenValues is the shipped composite-flattening pass. It explodes
// composite-typed parameters, locals and fields into their scalar leaves,
// then rewrites every body so reads, writes, calls and function references
// agree with the new shapes. Functions still return composites boxed; only
// declarations and call-site arguments change representation.
//
// The pass runs in two phases over the unit: first all signatures and fields
// (so call sites anywhere can consult the callee's new shape), then all
// bodies.
type FlattenValues struct {
	structures map[tree.SymbolID]*ParamStructure
}

// NewFlattenValues creates the pass.
func NewFlattenValues() *FlattenValues {
	return &FlattenValues{}
}

func (p *FlattenValues) Name() string { return "flatten-values" }

func (p *FlattenValues) Prerequisites() []string { return nil }

// Applicable claims every non-synthetic function. Forwarders generated
// during the run already speak the lowered shapes.
func (p *FlattenValues) Applicable(cx *Context, decl tree.NodeID) bool {
	n := cx.Arena.Node(decl)
	return n != nil && n.Kind == tree.KindFunction && !n.Flags.Has(tree.FlagSynthetic)
}

// Lower transforms the unit in place.
func (p *FlattenValues) Lower(cx *Context, unit tree.NodeID) error {
	p.structures = make(map[tree.SymbolID]*ParamStructure)

	a := cx.Arena
	for _, decl := range append([]tree.NodeID(nil), a.Kids(unit)...) {
		switch a.Kind(decl) {
		case tree.KindClass:
			if err := p.flattenFields(cx, decl); err != nil {
				return err
			}
			for _, kid := range append([]tree.NodeID(nil), a.Kids(decl)...) {
				if p.Applicable(cx, kid) {
					if err := p.flattenSignature(cx, kid); err != nil {
						return err
					}
				}
			}
		case tree.KindFunction:
			if p.Applicable(cx, decl) {
				if err := p.flattenSignature(cx, decl); err != nil {
					return err
				}
			}
		}
	}

	return EachApplicable(cx, unit, p, func(fn tree.NodeID) error {
		return p.rewriteBody(cx, unit, fn)
	})
}

// leafName derives the declaration name of one leaf of an exploded value.
func leafName(base string, path []string) string {
	return base + "$" + strings.Join(path, "$")
}

// flattenFields explodes the composite fields of a class into leaf fields,
// in place, preserving field order.
func (p *FlattenValues) flattenFields(cx *Context, class tree.NodeID) error {
	a := cx.Arena
	for _, kid := range append([]tree.NodeID(nil), a.Kids(class)...) {
		n := a.Node(kid)
		if n.Kind != tree.KindField || !cx.Types.IsComposite(n.Type) {
			continue
		}

		leaves := cx.Types.Leaves(n.Type)
		syms := make([]tree.SymbolID, len(leaves))
		idx := a.KidIndex(class, kid)
		for i, lf := range leaves {
			flags := n.Flags&tree.FlagImmutable | tree.FlagSynthetic
			field, sym := a.NewField(leafName(n.Name, lf.Path), lf.Type, flags)
			syms[i] = sym
			if i == 0 {
				if err := a.SetKid(class, idx, field); err != nil {
					return err
				}
			} else if err := a.InsertKid(class, idx+i, field); err != nil {
				return err
			}
		}

		inst, err := cx.NewInstance(n.Type, syms)
		if err != nil {
			return err
		}
		if err := cx.Remap.AddFlattened(n.Sym, inst); err != nil {
			return err
		}
	}
	return nil
}

// flattenSignature explodes composite parameters of fn and records the
// resulting ParamStructure under the function's symbol.
func (p *FlattenValues) flattenSignature(cx *Context, fn tree.NodeID) error {
	a := cx.Arena
	body := a.FunctionBody(fn)
	params := append([]tree.NodeID(nil), a.FunctionParams(fn)...)

	runs := make([]ParamRun, 0, len(params))
	newParams := make([]tree.NodeID, 0, len(params))
	changed := false

	for _, param := range params {
		pn := a.Node(param)
		sig := ParamSig{Name: pn.Name, Type: pn.Type, Flags: pn.Flags}
		if !cx.Types.IsComposite(pn.Type) {
			runs = append(runs, ParamRun{Sig: sig})
			newParams = append(newParams, param)
			continue
		}

		changed = true
		leaves := cx.Types.Leaves(pn.Type)
		syms := make([]tree.SymbolID, len(leaves))
		for i, lf := range leaves {
			flags := pn.Flags&tree.FlagImmutable | tree.FlagSynthetic
			leaf, sym := a.NewParam(leafName(pn.Name, lf.Path), lf.Type, flags)
			syms[i] = sym
			newParams = append(newParams, leaf)
		}

		inst, err := cx.NewInstance(pn.Type, syms)
		if err != nil {
			return err
		}
		if err := cx.Remap.AddFlattened(pn.Sym, inst); err != nil {
			return err
		}
		runs = append(runs, ParamRun{Sig: sig, Flattened: true})
	}

	if !changed {
		return nil
	}

	a.SetKids(fn, append(newParams, body))
	ps := &ParamStructure{Target: a.Node(fn).Sym, Runs: runs}
	if err := ps.Check(cx); err != nil {
		return err
	}
	p.structures[ps.Target] = ps
	return nil
}

// rewriteBody runs the rewrite protocol over one function and places the
// temporaries the rewrites registered.
func (p *FlattenValues) rewriteBody(cx *Context, unit, fn tree.NodeID) error {
	rw := &flattenRewriter{cx: cx, pass: p, unit: unit, fn: fn}
	w := NewWalker(cx)
	if _, err := w.Transform(&Scope{Decl: unit}, fn, rw); err != nil {
		return err
	}
	return cx.DrainTemps(fn)
}

// flattenRewriter is the per-function rewrite callback of FlattenValues.
type flattenRewriter struct {
	cx   *Context
	pass *FlattenValues
	unit tree.NodeID
	fn   tree.NodeID
}

func (r *flattenRewriter) Rewrite(sc *Scope, id tree.NodeID) (tree.NodeID, error) {
	cx := r.cx
	a := cx.Arena
	n := a.Node(id)

	switch n.Kind {
	case tree.KindRead:
		if len(n.Kids) == 0 {
			rep, ok := cx.Remap.Lookup(n.Sym)
			if !ok {
				return id, nil
			}
			if !rep.IsFlattened() {
				n.Sym = rep.Single
				return id, nil
			}
			return cx.Compose(rep.Inst.Type, cx.ReadsOf(rep.Inst).Reads())
		}
		rep, ok := cx.Remap.Lookup(n.Sym)
		if !ok || !rep.IsFlattened() {
			return id, nil
		}
		return r.fieldRead(n, rep.Inst)

	case tree.KindWrite:
		rep, ok := cx.Remap.Lookup(n.Sym)
		if !ok {
			return id, nil
		}
		if !rep.IsFlattened() {
			n.Sym = rep.Single
			return id, nil
		}
		if len(n.Kids) == 2 {
			return r.fieldWrite(n, rep.Inst)
		}
		return r.localWrite(n, rep.Inst)

	case tree.KindLocal:
		if !cx.Types.IsComposite(n.Type) {
			return id, nil
		}
		return r.explodeLocal(n)

	case tree.KindCall:
		if n.Sym == tree.NoSymbol {
			return id, nil
		}
		ps, ok := r.pass.structures[n.Sym]
		if !ok {
			return id, nil
		}
		return cx.RewriteCall(r.fn, id, ps, ModeSafe)

	case tree.KindFuncRef:
		ps, ok := r.pass.structures[n.Sym]
		if !ok {
			return id, nil
		}
		fwd, err := cx.ForwardingFunction(r.unit, n.Sym, ps)
		if err != nil {
			return tree.NoNode, err
		}
		// Re-fetch: synthesizing the forwarder grew the arena, so n may be a
		// stale pointer.
		a.Node(id).Sym = fwd
		return id, nil

	case tree.KindComponent:
		return r.foldComponent(id, n)
	}

	return id, nil
}

// writeMode selects the flattening policy for a write: unsafe only for
// constructor self-initialization, where the target is not yet observable.
func writeMode(n *tree.Node) Mode {
	if n.Flags.Has(tree.FlagConstructorInit) {
		return ModeUnsafe
	}
	return ModeSafe
}

// localWrite turns a write of an exploded local into its leaf writes.
func (r *flattenRewriter) localWrite(n *tree.Node, inst *Instance) (tree.NodeID, error) {
	cx := r.cx
	prelude, leaves, err := cx.Flatten(r.fn, n.Kids[0], inst.Type, writeMode(n))
	if err != nil {
		return tree.NoNode, err
	}
	wa, err := cx.WritesOf(inst, leaves)
	if err != nil {
		return tree.NoNode, err
	}
	return cx.Arena.Block(layout.NoType, append(prelude, wa.Stmts()...)...), nil
}

// fieldWrite turns a write of an exploded field into leaf writes through a
// single evaluation of the receiver.
func (r *flattenRewriter) fieldWrite(n *tree.Node, inst *Instance) (tree.NodeID, error) {
	cx := r.cx
	a := cx.Arena

	var stmts []tree.NodeID
	recv := r.pinReceiver(n.Kids[0], &stmts)

	prelude, leaves, err := cx.Flatten(r.fn, n.Kids[1], inst.Type, writeMode(n))
	if err != nil {
		return tree.NoNode, err
	}
	stmts = append(stmts, prelude...)

	for i, sym := range inst.Leaves {
		stmts = append(stmts, a.FieldWrite(sym, recv(), leaves[i]))
	}
	return a.Block(layout.NoType, stmts...), nil
}

// fieldRead turns a read of an exploded field into a composition of leaf
// reads through a single evaluation of the receiver.
func (r *flattenRewriter) fieldRead(n *tree.Node, inst *Instance) (tree.NodeID, error) {
	cx := r.cx
	a := cx.Arena

	var stmts []tree.NodeID
	recv := r.pinReceiver(n.Kids[0], &stmts)

	layoutLeaves := cx.Types.Leaves(inst.Type)
	reads := make([]tree.NodeID, len(inst.Leaves))
	for i, sym := range inst.Leaves {
		reads[i] = a.FieldRead(layoutLeaves[i].Type, recv(), sym)
	}
	composed, err := cx.Compose(inst.Type, reads)
	if err != nil {
		return tree.NoNode, err
	}
	if len(stmts) == 0 {
		return composed, nil
	}
	return a.Block(inst.Type, append(stmts, composed)...), nil
}

// pinReceiver arranges for a receiver expression to be evaluated exactly
// once: repeatable reads are cloned per use, anything else is captured into
// a temporary first. The returned func mints a fresh receiver node per call.
func (r *flattenRewriter) pinReceiver(recv tree.NodeID, stmts *[]tree.NodeID) func() tree.NodeID {
	cx := r.cx
	a := cx.Arena
	n := a.Node(recv)
	if n.Kind == tree.KindRead && len(n.Kids) == 0 && cx.isRepeatable(recv) {
		t, sym := n.Type, n.Sym
		return func() tree.NodeID { return a.Read(t, sym) }
	}
	tmp := cx.NewTemp(r.fn, n.Type, tree.FlagImmutable)
	*stmts = append(*stmts, a.Write(tmp.Sym, recv))
	t, sym := n.Type, tmp.Sym
	return func() tree.NodeID { return a.Read(t, sym) }
}

// explodeLocal replaces a composite local with one local per leaf, carrying
// the flattened initializer when there is one.
func (r *flattenRewriter) explodeLocal(n *tree.Node) (tree.NodeID, error) {
	cx := r.cx
	a := cx.Arena

	var prelude []tree.NodeID
	layoutLeaves := cx.Types.Leaves(n.Type)
	inits := make([]tree.NodeID, len(layoutLeaves))
	if len(n.Kids) == 1 {
		var leaves []tree.NodeID
		var err error
		prelude, leaves, err = cx.Flatten(r.fn, n.Kids[0], n.Type, ModeSafe)
		if err != nil {
			return tree.NoNode, err
		}
		copy(inits, leaves)
	}

	stmts := prelude
	syms := make([]tree.SymbolID, len(layoutLeaves))
	for i, lf := range layoutLeaves {
		flags := n.Flags&tree.FlagImmutable | tree.FlagSynthetic
		decl, sym := a.NewLocal(leafName(n.Name, lf.Path), lf.Type, flags, inits[i])
		syms[i] = sym
		stmts = append(stmts, decl)
	}

	inst, err := cx.NewInstance(n.Type, syms)
	if err != nil {
		return tree.NoNode, err
	}
	if err := cx.Remap.AddFlattened(n.Sym, inst); err != nil {
		return tree.NoNode, err
	}
	return a.Block(layout.NoType, stmts...), nil
}

// foldComponent simplifies an unboxing read over a construction when every
// discarded argument is repeatable, so no effect is lost. Anything else is
// left for runtime unboxing.
func (r *flattenRewriter) foldComponent(id tree.NodeID, n *tree.Node) (tree.NodeID, error) {
	cx := r.cx
	a := cx.Arena
	recv := a.Node(n.Kids[0])
	if recv.Kind != tree.KindConstruct {
		return id, nil
	}

	t := recv.Type
	off := 0
	length := cx.Types.LeafCount(t)
	for _, seg := range strings.Split(n.Str, ".") {
		o, l, ct, ok := cx.Types.ComponentRun(t, seg)
		if !ok {
			return id, nil
		}
		off += o
		length = l
		t = ct
	}

	leaves, ok := flattenPure(cx, n.Kids[0])
	if !ok {
		return id, nil
	}
	for i, leaf := range leaves {
		if (i < off || i >= off+length) && !cx.isRepeatable(leaf) {
			return id, nil
		}
	}
	if length == 1 {
		return leaves[off], nil
	}
	return cx.Compose(t, leaves[off:off+length])
}

// flattenPure decomposes nested constructions into leaf expressions without
// generating any statements. It reports false on anything that is not a
// plain construction tree over scalar expressions.
func flattenPure(cx *Context, id tree.NodeID) ([]tree.NodeID, bool) {
	a := cx.Arena
	n := a.Node(id)
	if n.Kind != tree.KindConstruct {
		if cx.Types.IsComposite(n.Type) {
			return nil, false
		}
		return []tree.NodeID{id}, true
	}
	var out []tree.NodeID
	for _, kid := range n.Kids {
		sub, ok := flattenPure(cx, kid)
		if !ok {
			return nil, false
		}
		out = append(out, sub...)
	}
	return out, true
}
