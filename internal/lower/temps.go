package lower

import (
	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// Temp is a temporary registered during flattening whose declaration has not
// been placed yet. Reads and writes may reference its symbol freely; the
// declaration itself is synthesized by DrainTemps once the owning function's
// lowering completes, at the narrowest block that covers every use.
type Temp struct {
	Sym   tree.SymbolID
	Type  layout.TypeID
	Flags tree.Flags
	Name  string
}

// NewTemp registers a fresh temporary owned by the given function. The name
// is deterministic per owner, so identical input lowers to identical output.
func (cx *Context) NewTemp(owner tree.NodeID, t layout.TypeID, flags tree.Flags) *Temp {
	name := cx.nextName(owner, "tmp")
	tmp := &Temp{
		Sym:   cx.Arena.NewSymbol(name),
		Type:  t,
		Flags: flags | tree.FlagSynthetic,
		Name:  name,
	}
	cx.temps[owner] = append(cx.temps[owner], tmp)
	cx.pending[tmp.Sym] = tmp
	return tmp
}

// DrainTemps places declarations for every temporary registered under fn.
// Each temporary is declared at the deepest block containing all of its use
// sites, immediately before the statement holding the first use. When the
// first use is the temporary's only write and that write is itself a
// statement of the chosen block, the write becomes the declaration's
// initializer instead of a separate assignment. Temporaries with no
// surviving uses are dropped without a declaration.
func (cx *Context) DrainTemps(fn tree.NodeID) error {
	pending := cx.temps[fn]
	delete(cx.temps, fn)
	if len(pending) == 0 {
		return nil
	}

	body := cx.Arena.FunctionBody(fn)
	if body == tree.NoNode {
		return cx.ice("E3010", fn, "temporaries registered under a bodiless function")
	}

	for _, tmp := range pending {
		delete(cx.pending, tmp.Sym)
		uses := collectUses(cx.Arena, body, tmp.Sym)
		if len(uses) == 0 {
			continue
		}

		block := commonBlock(cx.Arena, body, uses)
		if block == tree.NoNode {
			return cx.ice("E3011", fn, "temporary %s has uses outside the function body", tmp.Name)
		}

		idx := statementIndex(cx.Arena, block, uses[0])
		if idx < 0 {
			return cx.ice("E3012", fn, "temporary %s: first use not under its placement block", tmp.Name)
		}

		if cx.canInline(block, tmp.Sym, uses) {
			write := uses[0]
			val := cx.Arena.Kids(write)[0]
			decl := cx.newTempLocal(tmp, val)
			if err := cx.Arena.ReplaceKid(block, write, decl); err != nil {
				return cx.ice("E3013", fn, "temporary %s: %v", tmp.Name, err)
			}
			continue
		}

		decl := cx.newTempLocal(tmp, tree.NoNode)
		if err := cx.Arena.InsertKid(block, idx, decl); err != nil {
			return cx.ice("E3014", fn, "temporary %s: %v", tmp.Name, err)
		}
	}
	return nil
}

// newTempLocal builds the local declaration for a drained temporary and
// binds the pending symbol to it, so references issued during flattening
// resolve to the placed declaration.
func (cx *Context) newTempLocal(tmp *Temp, init tree.NodeID) tree.NodeID {
	a := cx.Arena
	var kids []tree.NodeID
	if init != tree.NoNode {
		kids = []tree.NodeID{init}
	}
	id := a.Add(tree.Node{
		Kind:  tree.KindLocal,
		Type:  tmp.Type,
		Sym:   tmp.Sym,
		Name:  tmp.Name,
		Flags: tmp.Flags,
		Kids:  kids,
	})
	a.Bind(tmp.Sym, id)
	return id
}

// canInline reports whether the temporary's initializing write can fold into
// its declaration: the first use in program order must be a receiverless
// write, it must be the only write, and it must already sit as a statement of
// the placement block.
func (cx *Context) canInline(block tree.NodeID, sym tree.SymbolID, uses []tree.NodeID) bool {
	a := cx.Arena
	first := uses[0]
	n := a.Node(first)
	if n.Kind != tree.KindWrite || len(n.Kids) != 1 {
		return false
	}
	if n.Parent != block {
		return false
	}
	for _, u := range uses[1:] {
		if a.Kind(u) == tree.KindWrite && a.Node(u).Sym == sym {
			return false
		}
	}
	return true
}

// collectUses returns every read and write of sym under root, in pre-order.
func collectUses(a *tree.Arena, root tree.NodeID, sym tree.SymbolID) []tree.NodeID {
	var uses []tree.NodeID
	var walk func(id tree.NodeID)
	walk = func(id tree.NodeID) {
		n := a.Node(id)
		if n == nil {
			return
		}
		switch n.Kind {
		case tree.KindRead, tree.KindWrite:
			if n.Sym == sym {
				uses = append(uses, id)
			}
		}
		for _, kid := range n.Kids {
			walk(kid)
		}
	}
	walk(root)
	return uses
}

// commonBlock returns the deepest block under body that is an ancestor of
// every use, or NoNode if a use escapes the body.
func commonBlock(a *tree.Arena, body tree.NodeID, uses []tree.NodeID) tree.NodeID {
	common := blockChain(a, body, uses[0])
	if common == nil {
		return tree.NoNode
	}
	for _, u := range uses[1:] {
		chain := blockChain(a, body, u)
		if chain == nil {
			return tree.NoNode
		}
		common = commonPrefix(common, chain)
		if len(common) == 0 {
			return tree.NoNode
		}
	}
	return common[len(common)-1]
}

// blockChain lists the block ancestors of id from body (outermost) inward.
// The body block itself is always first; nil is returned if id is not under
// body at all.
func blockChain(a *tree.Arena, body, id tree.NodeID) []tree.NodeID {
	var rev []tree.NodeID
	for cur := id; cur != tree.NoNode; cur = a.Parent(cur) {
		if a.Kind(cur) == tree.KindBlock {
			rev = append(rev, cur)
		}
		if cur == body {
			chain := make([]tree.NodeID, len(rev))
			for i, b := range rev {
				chain[len(rev)-1-i] = b
			}
			return chain
		}
	}
	return nil
}

func commonPrefix(a, b []tree.NodeID) []tree.NodeID {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[:i]
		}
	}
	return a[:n]
}

// statementIndex returns the index of the statement of block that contains
// use (possibly use itself), or -1.
func statementIndex(a *tree.Arena, block, use tree.NodeID) int {
	cur := use
	for cur != tree.NoNode {
		p := a.Parent(cur)
		if p == block {
			return a.KidIndex(block, cur)
		}
		cur = p
	}
	return -1
}
