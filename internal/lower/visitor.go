package lower

import (
	"github.com/loom-ir/loom/internal/tree"
)

// Rewriter is the per-pass rewrite callback. Rewrite receives every node
// exactly once per pass run, children already transformed, and returns the
// node unchanged, a replacement node, or a block composite of statements
// ending in a value-producing node. Blocks are semantically transparent, so a
// one-for-many replacement is expressed as a block rather than a splice.
type Rewriter interface {
	Rewrite(sc *Scope, id tree.NodeID) (tree.NodeID, error)
}

// RewriteFunc adapts an ordinary function to the Rewriter interface.
type RewriteFunc func(sc *Scope, id tree.NodeID) (tree.NodeID, error)

// Rewrite implements Rewriter.
func (f RewriteFunc) Rewrite(sc *Scope, id tree.NodeID) (tree.NodeID, error) {
	return f(sc, id)
}

// Walker drives the traversal of a declaration subtree for one pass.
type Walker struct {
	cx *Context
}

// NewWalker creates a walker over the context's arena.
func NewWalker(cx *Context) *Walker {
	return &Walker{cx: cx}
}

// Transform rewrites the subtree rooted at id bottom-up: children are
// transformed first (replacements installed into their parent slots), then
// the node itself is offered to the rewriter. Replacement nodes are not
// revisited, which keeps the exactly-once visiting contract. The scope chain
// grows at declaration nodes so a rewrite can always answer "where am I
// nested".
func (w *Walker) Transform(sc *Scope, id tree.NodeID, rw Rewriter) (tree.NodeID, error) {
	a := w.cx.Arena

	cur := sc
	if a.Kind(id).IsDecl() {
		cur = &Scope{Parent: sc, Decl: id}
	}

	// The kid list is snapshotted because a rewrite below may replace slots.
	kids := append([]tree.NodeID(nil), a.Kids(id)...)
	for i, kid := range kids {
		nk, err := w.Transform(cur, kid, rw)
		if err != nil {
			return tree.NoNode, err
		}
		if nk != kid {
			if err := a.SetKid(id, i, nk); err != nil {
				return tree.NoNode, err
			}
		}
	}

	return rw.Rewrite(cur, id)
}
