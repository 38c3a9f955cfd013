package tree

import (
	"fmt"
)

// Arena owns every node and symbol of one compilation unit. Index 0 of both
// tables is reserved so that the zero IDs stay invalid.
type Arena struct {
	nodes []Node
	syms  []Symbol
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		nodes: make([]Node, 1),
		syms:  make([]Symbol, 1),
	}
}

// Len returns the number of live node slots, including the reserved slot 0.
func (a *Arena) Len() int { return len(a.nodes) }

// Add appends a node to the arena and returns its ID. The kids listed in the
// node are reparented to the new node.
func (a *Arena) Add(n Node) NodeID {
	id := NodeID(len(a.nodes))
	a.nodes = append(a.nodes, n)
	for _, kid := range n.Kids {
		if kid != NoNode {
			a.nodes[kid].Parent = id
		}
	}
	return id
}

// Node returns a pointer to the node for in-place mutation. The pointer is
// invalidated by the next Add.
func (a *Arena) Node(id NodeID) *Node {
	if id == NoNode || int(id) >= len(a.nodes) {
		return nil
	}
	return &a.nodes[id]
}

// Kind returns the node's kind, or KindInvalid for unknown IDs.
func (a *Arena) Kind(id NodeID) NodeKind {
	n := a.Node(id)
	if n == nil {
		return KindInvalid
	}
	return n.Kind
}

// Kids returns the node's children in evaluation order.
func (a *Arena) Kids(id NodeID) []NodeID {
	n := a.Node(id)
	if n == nil {
		return nil
	}
	return n.Kids
}

// Parent returns the owning parent of id.
func (a *Arena) Parent(id NodeID) NodeID {
	n := a.Node(id)
	if n == nil {
		return NoNode
	}
	return n.Parent
}

// SetKid replaces the i-th child of parent, fixing up the parent link of the
// new child.
func (a *Arena) SetKid(parent NodeID, i int, kid NodeID) error {
	p := a.Node(parent)
	if p == nil || i < 0 || i >= len(p.Kids) {
		return fmt.Errorf("tree: no child slot %d on node %d", i, parent)
	}
	p.Kids[i] = kid
	if kid != NoNode {
		a.nodes[kid].Parent = parent
	}
	return nil
}

// ReplaceKid swaps the child old of parent for new. It fails if old is not a
// direct child; a silent miss here would leave a stale subtree in place.
func (a *Arena) ReplaceKid(parent, old, repl NodeID) error {
	p := a.Node(parent)
	if p == nil {
		return fmt.Errorf("tree: unknown parent node %d", parent)
	}
	for i, kid := range p.Kids {
		if kid == old {
			return a.SetKid(parent, i, repl)
		}
	}
	return fmt.Errorf("tree: node %d is not a child of %d", old, parent)
}

// InsertKid inserts kid at position i of parent's child list.
func (a *Arena) InsertKid(parent NodeID, i int, kid NodeID) error {
	p := a.Node(parent)
	if p == nil || i < 0 || i > len(p.Kids) {
		return fmt.Errorf("tree: cannot insert at %d on node %d", i, parent)
	}
	p.Kids = append(p.Kids, NoNode)
	copy(p.Kids[i+1:], p.Kids[i:])
	p.Kids[i] = kid
	if kid != NoNode {
		a.nodes[kid].Parent = parent
	}
	return nil
}

// AppendKid adds kid as the last child of parent.
func (a *Arena) AppendKid(parent, kid NodeID) {
	p := a.Node(parent)
	if p == nil {
		return
	}
	p.Kids = append(p.Kids, kid)
	if kid != NoNode {
		a.nodes[kid].Parent = parent
	}
}

// SetKids replaces parent's whole child list, reparenting the new kids.
func (a *Arena) SetKids(parent NodeID, kids []NodeID) {
	p := a.Node(parent)
	if p == nil {
		return
	}
	p.Kids = kids
	for _, kid := range kids {
		if kid != NoNode {
			a.nodes[kid].Parent = parent
		}
	}
}

// RemoveKid removes the i-th child of parent, keeping order.
func (a *Arena) RemoveKid(parent NodeID, i int) error {
	p := a.Node(parent)
	if p == nil || i < 0 || i >= len(p.Kids) {
		return fmt.Errorf("tree: no child slot %d on node %d", i, parent)
	}
	p.Kids = append(p.Kids[:i], p.Kids[i+1:]...)
	return nil
}

// KidIndex returns the position of kid in parent's child list, or -1.
func (a *Arena) KidIndex(parent, kid NodeID) int {
	for i, k := range a.Kids(parent) {
		if k == kid {
			return i
		}
	}
	return -1
}

// ====== Symbols ======

// NewSymbol creates a fresh unbound symbol.
func (a *Arena) NewSymbol(name string) SymbolID {
	id := SymbolID(len(a.syms))
	a.syms = append(a.syms, Symbol{Name: name})
	return id
}

// Bind points sym at its (new) declaration node.
func (a *Arena) Bind(sym SymbolID, decl NodeID) {
	if sym == NoSymbol || int(sym) >= len(a.syms) {
		return
	}
	a.syms[sym].Decl = decl
}

// Decl returns the declaration currently bound to sym.
func (a *Arena) Decl(sym SymbolID) NodeID {
	if sym == NoSymbol || int(sym) >= len(a.syms) {
		return NoNode
	}
	return a.syms[sym].Decl
}

// SymbolName returns the name recorded for sym.
func (a *Arena) SymbolName(sym SymbolID) string {
	if sym == NoSymbol || int(sym) >= len(a.syms) {
		return fmt.Sprintf("<sym#%d>", sym)
	}
	return a.syms[sym].Name
}

// Symbols returns the number of live symbol slots, including slot 0.
func (a *Arena) Symbols() int { return len(a.syms) }

// ====== Function helpers ======

// FunctionParams returns the parameter declarations of a function node.
func (a *Arena) FunctionParams(fn NodeID) []NodeID {
	n := a.Node(fn)
	if n == nil || n.Kind != KindFunction || len(n.Kids) == 0 {
		return nil
	}
	return n.Kids[:len(n.Kids)-1]
}

// FunctionBody returns the body block of a function node, or NoNode.
func (a *Arena) FunctionBody(fn NodeID) NodeID {
	n := a.Node(fn)
	if n == nil || n.Kind != KindFunction || len(n.Kids) == 0 {
		return NoNode
	}
	return n.Kids[len(n.Kids)-1]
}

// EnclosingBlock walks parent links from id to the nearest KindBlock.
func (a *Arena) EnclosingBlock(id NodeID) NodeID {
	for cur := a.Parent(id); cur != NoNode; cur = a.Parent(cur) {
		if a.Kind(cur) == KindBlock {
			return cur
		}
	}
	return NoNode
}

// ====== Snapshot / restore (used by the wire format) ======

// Snapshot returns copies of the node and symbol tables, including the
// reserved zero slots.
func (a *Arena) Snapshot() ([]Node, []Symbol) {
	nodes := make([]Node, len(a.nodes))
	copy(nodes, a.nodes)
	for i := range nodes {
		if len(a.nodes[i].Kids) > 0 {
			nodes[i].Kids = append([]NodeID(nil), a.nodes[i].Kids...)
		}
	}
	syms := make([]Symbol, len(a.syms))
	copy(syms, a.syms)
	return nodes, syms
}

// Restore rebuilds an arena from snapshot tables. Slot 0 of both tables must
// be the reserved invalid entry.
func Restore(nodes []Node, syms []Symbol) (*Arena, error) {
	if len(nodes) == 0 || len(syms) == 0 {
		return nil, fmt.Errorf("tree: snapshot missing reserved slots")
	}
	if nodes[0].Kind != KindInvalid {
		return nil, fmt.Errorf("tree: snapshot slot 0 must be invalid, got %s", nodes[0].Kind)
	}

	a := &Arena{nodes: nodes, syms: syms}
	for id := 1; id < len(nodes); id++ {
		for _, kid := range nodes[id].Kids {
			if int(kid) >= len(nodes) {
				return nil, fmt.Errorf("tree: node %d references out-of-range child %d", id, kid)
			}
		}
	}
	return a, nil
}
