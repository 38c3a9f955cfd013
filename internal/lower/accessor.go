package lower

import (
	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// Instance is one concrete flattened occurrence of a composite value: the
// leaf declarations standing in for it, in the canonical leaf order of its
// layout. Instances are pass-local; they live only as long as the lowering
// of the enclosing declaration.
type Instance struct {
	Type   layout.TypeID
	Leaves []tree.SymbolID
}

// NewInstance binds leaf symbols to a composite layout. The count must match
// the layout's leaf count exactly.
func (cx *Context) NewInstance(t layout.TypeID, leaves []tree.SymbolID) (*Instance, error) {
	want := cx.Types.LeafCount(t)
	if len(leaves) != want {
		return nil, cx.ice("E3001", tree.NoNode, "instance of %s has %d leaves, layout has %d",
			cx.Types.Name(t), len(leaves), want)
	}
	return &Instance{Type: t, Leaves: leaves}, nil
}

// Narrow returns the sub-instance covering the named component, or false if
// the layout has no such component.
func (i *Instance) Narrow(types *layout.Registry, component string) (*Instance, bool) {
	off, n, ct, ok := types.ComponentRun(i.Type, component)
	if !ok {
		return nil, false
	}
	return &Instance{Type: ct, Leaves: i.Leaves[off : off+n]}, true
}

// ReadAccessor synthesizes read expressions for an instance's leaves.
type ReadAccessor struct {
	cx   *Context
	inst *Instance
}

// ReadsOf returns an accessor over the instance.
func (cx *Context) ReadsOf(inst *Instance) *ReadAccessor {
	return &ReadAccessor{cx: cx, inst: inst}
}

// Narrow scopes the accessor to one component of the composite.
func (r *ReadAccessor) Narrow(component string) (*ReadAccessor, bool) {
	sub, ok := r.inst.Narrow(r.cx.Types, component)
	if !ok {
		return nil, false
	}
	return &ReadAccessor{cx: r.cx, inst: sub}, true
}

// Reads returns one fresh read node per leaf, in canonical order.
func (r *ReadAccessor) Reads() []tree.NodeID {
	leaves := r.cx.Types.Leaves(r.inst.Type)
	out := make([]tree.NodeID, len(r.inst.Leaves))
	for i, sym := range r.inst.Leaves {
		out[i] = r.cx.Arena.Read(leaves[i].Type, sym)
	}
	return out
}

// WriteAccessor pairs an instance with candidate value expressions and
// synthesizes the leaf write statements.
type WriteAccessor struct {
	cx     *Context
	inst   *Instance
	values []tree.NodeID
}

// WritesOf returns an accessor writing values into the instance's leaves.
// The value count must match the leaf count.
func (cx *Context) WritesOf(inst *Instance, values []tree.NodeID) (*WriteAccessor, error) {
	if len(values) != len(inst.Leaves) {
		return nil, cx.ice("E3002", tree.NoNode, "write of %s instance given %d values for %d leaves",
			cx.Types.Name(inst.Type), len(values), len(inst.Leaves))
	}
	return &WriteAccessor{cx: cx, inst: inst, values: values}, nil
}

// Narrow scopes the accessor to one component of the composite.
func (w *WriteAccessor) Narrow(component string) (*WriteAccessor, bool) {
	off, n, ct, ok := w.cx.Types.ComponentRun(w.inst.Type, component)
	if !ok {
		return nil, false
	}
	sub := &Instance{Type: ct, Leaves: w.inst.Leaves[off : off+n]}
	return &WriteAccessor{cx: w.cx, inst: sub, values: w.values[off : off+n]}, true
}

// Stmts returns one write statement per leaf, in canonical order.
func (w *WriteAccessor) Stmts() []tree.NodeID {
	out := make([]tree.NodeID, len(w.inst.Leaves))
	for i, sym := range w.inst.Leaves {
		out[i] = w.cx.Arena.Write(sym, w.values[i])
	}
	return out
}
