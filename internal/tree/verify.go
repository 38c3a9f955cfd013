package tree

import (
	"fmt"

	"github.com/loom-ir/loom/internal/layout"
)

// Verify checks structural invariants of the unit rooted at root: every
// reachable node is owned by exactly one parent, parent links agree with the
// child lists, declarations carry bound symbols, and composite constructions
// match their layout arity. Passes may run it between pipeline stages to
// catch corruption early instead of miscompiling later.
func Verify(a *Arena, types *layout.Registry, root NodeID) error {
	rn := a.Node(root)
	if rn == nil || rn.Kind != KindUnit {
		return fmt.Errorf("tree: verify root %d is not a unit", root)
	}
	if rn.Parent != NoNode {
		return fmt.Errorf("tree: unit root %d has a parent", root)
	}

	v := &verifier{a: a, types: types, owner: make(map[NodeID]NodeID)}
	return v.walk(root)
}

type verifier struct {
	a     *Arena
	types *layout.Registry
	owner map[NodeID]NodeID
}

func (v *verifier) walk(id NodeID) error {
	n := v.a.Node(id)
	if n == nil {
		return fmt.Errorf("tree: dangling node reference %d", id)
	}

	if err := v.checkShape(id, n); err != nil {
		return err
	}

	for _, kid := range n.Kids {
		if kid == NoNode {
			return fmt.Errorf("tree: node %d (%s) has a nil child slot", id, n.Kind)
		}
		if prev, claimed := v.owner[kid]; claimed {
			return fmt.Errorf("tree: node %d owned by both %d and %d", kid, prev, id)
		}
		v.owner[kid] = id

		kn := v.a.Node(kid)
		if kn == nil {
			return fmt.Errorf("tree: node %d references unknown child %d", id, kid)
		}
		if kn.Parent != id {
			return fmt.Errorf("tree: child %d records parent %d, owned by %d", kid, kn.Parent, id)
		}

		if err := v.walk(kid); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) checkShape(id NodeID, n *Node) error {
	switch n.Kind {
	case KindUnit:
		// checked by Verify

	case KindClass, KindFunction, KindParam, KindLocal, KindField:
		if n.Sym == NoSymbol {
			return fmt.Errorf("tree: %s declaration %d has no symbol", n.Kind, id)
		}
		if v.a.Decl(n.Sym) == NoNode {
			return fmt.Errorf("tree: symbol %q of %s %d is unbound", v.a.SymbolName(n.Sym), n.Kind, id)
		}
		if n.Kind == KindLocal && len(n.Kids) > 1 {
			return fmt.Errorf("tree: local %d has %d initializers", id, len(n.Kids))
		}
		if n.Kind == KindFunction && len(n.Kids) == 0 {
			return fmt.Errorf("tree: function %d has no body", id)
		}

	case KindConstruct:
		t := v.types.Get(n.Type)
		if t == nil || t.Kind != layout.KindComposite {
			return fmt.Errorf("tree: construct %d has non-composite type %s", id, v.types.Name(n.Type))
		}
		if len(n.Kids) != len(t.Components) {
			return fmt.Errorf("tree: construct %d of %s has %d args, want %d",
				id, t.Name, len(n.Kids), len(t.Components))
		}

	case KindIf:
		if len(n.Kids) < 2 || len(n.Kids) > 3 {
			return fmt.Errorf("tree: if %d has %d children", id, len(n.Kids))
		}

	case KindTry:
		catches := int(n.Int64)
		if catches < 0 || len(n.Kids) < 1+catches || len(n.Kids) > 2+catches {
			return fmt.Errorf("tree: try %d has %d children for %d catches", id, len(n.Kids), catches)
		}

	case KindCatch:
		if len(n.Kids) != 1 {
			return fmt.Errorf("tree: catch %d has %d children", id, len(n.Kids))
		}

	case KindWrite:
		if len(n.Kids) < 1 || len(n.Kids) > 2 {
			return fmt.Errorf("tree: write %d has %d children", id, len(n.Kids))
		}
		if n.Sym == NoSymbol {
			return fmt.Errorf("tree: write %d targets no symbol", id)
		}

	case KindRead:
		if n.Sym == NoSymbol {
			return fmt.Errorf("tree: read %d targets no symbol", id)
		}
		if len(n.Kids) > 1 {
			return fmt.Errorf("tree: read %d has %d receivers", id, len(n.Kids))
		}

	case KindComponent:
		if len(n.Kids) != 1 {
			return fmt.Errorf("tree: component read %d has %d receivers", id, len(n.Kids))
		}
		if n.Str == "" {
			return fmt.Errorf("tree: component read %d has no component path", id)
		}

	case KindThrow:
		if len(n.Kids) != 1 {
			return fmt.Errorf("tree: throw %d has %d children", id, len(n.Kids))
		}

	case KindReturn:
		if len(n.Kids) > 1 {
			return fmt.Errorf("tree: return %d has %d values", id, len(n.Kids))
		}

	case KindFuncRef:
		if n.Sym == NoSymbol {
			return fmt.Errorf("tree: funcref %d targets no symbol", id)
		}

	case KindCall, KindBlock, KindConst:
		// no structural constraints beyond ownership

	default:
		return fmt.Errorf("tree: node %d has invalid kind %d", id, n.Kind)
	}
	return nil
}
