package tree

import (
	"fmt"
	"strings"

	"github.com/loom-ir/loom/internal/layout"
)

// Render returns a human-readable form of the subtree rooted at id. The
// output is meant for diagnostics and golden tests, in the same spirit as a
// textual IR dump.
func Render(a *Arena, types *layout.Registry, id NodeID) string {
	r := renderer{a: a, types: types}
	var b strings.Builder
	r.node(&b, id, 0)
	return b.String()
}

type renderer struct {
	a     *Arena
	types *layout.Registry
}

func (r *renderer) indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}

func (r *renderer) typeName(t layout.TypeID) string {
	if t == layout.NoType {
		return "void"
	}
	return r.types.Name(t)
}

// node renders declarations and statements, one per line.
func (r *renderer) node(b *strings.Builder, id NodeID, depth int) {
	n := r.a.Node(id)
	if n == nil {
		r.indent(b, depth)
		b.WriteString("<nil-node>\n")
		return
	}

	switch n.Kind {
	case KindUnit:
		fmt.Fprintf(b, "unit %s {\n", n.Name)
		for _, kid := range n.Kids {
			r.node(b, kid, depth+1)
		}
		b.WriteString("}\n")

	case KindClass:
		r.indent(b, depth)
		fmt.Fprintf(b, "class %s: %s {\n", n.Name, r.typeName(n.Type))
		for _, kid := range n.Kids {
			r.node(b, kid, depth+1)
		}
		r.indent(b, depth)
		b.WriteString("}\n")

	case KindField:
		r.indent(b, depth)
		fmt.Fprintf(b, "field %s: %s\n", n.Name, r.typeName(n.Type))

	case KindFunction:
		r.indent(b, depth)
		fmt.Fprintf(b, "func %s(", n.Name)
		params := r.a.FunctionParams(id)
		for i, p := range params {
			if i > 0 {
				b.WriteString(", ")
			}
			pn := r.a.Node(p)
			fmt.Fprintf(b, "%s: %s", pn.Name, r.typeName(pn.Type))
		}
		fmt.Fprintf(b, "): %s ", r.typeName(n.Type))
		r.blockBody(b, r.a.FunctionBody(id), depth)
		b.WriteString("\n")

	case KindBlock:
		r.indent(b, depth)
		r.blockBody(b, id, depth)
		b.WriteString("\n")

	case KindLocal:
		r.indent(b, depth)
		fmt.Fprintf(b, "local %s: %s", n.Name, r.typeName(n.Type))
		if len(n.Kids) == 1 {
			fmt.Fprintf(b, " = %s", r.expr(n.Kids[0]))
		}
		b.WriteString("\n")

	default:
		// Everything else renders as an expression statement.
		r.indent(b, depth)
		b.WriteString(r.expr(id))
		b.WriteString("\n")
	}
}

// blockBody renders "{ ... }" with the statements indented one level.
func (r *renderer) blockBody(b *strings.Builder, id NodeID, depth int) {
	if id == NoNode {
		b.WriteString("{}")
		return
	}
	kids := r.a.Kids(id)
	if len(kids) == 0 {
		b.WriteString("{}")
		return
	}
	b.WriteString("{\n")
	for _, kid := range kids {
		r.node(b, kid, depth+1)
	}
	r.indent(b, depth)
	b.WriteString("}")
}

// expr renders expression nodes inline.
func (r *renderer) expr(id NodeID) string {
	n := r.a.Node(id)
	if n == nil {
		return "<nil>"
	}

	switch n.Kind {
	case KindConst:
		if n.Str != "" {
			return fmt.Sprintf("%q", n.Str)
		}
		return fmt.Sprintf("%d", n.Int64)

	case KindRead:
		if len(n.Kids) == 1 {
			return fmt.Sprintf("%s.%s", r.expr(n.Kids[0]), r.a.SymbolName(n.Sym))
		}
		return r.a.SymbolName(n.Sym)

	case KindWrite:
		val := n.Kids[len(n.Kids)-1]
		if len(n.Kids) == 2 {
			return fmt.Sprintf("%s.%s = %s", r.expr(n.Kids[0]), r.a.SymbolName(n.Sym), r.expr(val))
		}
		return fmt.Sprintf("%s = %s", r.a.SymbolName(n.Sym), r.expr(val))

	case KindCall:
		var b strings.Builder
		if n.Sym != NoSymbol {
			b.WriteString(r.a.SymbolName(n.Sym))
			b.WriteString("(")
			r.exprList(&b, n.Kids)
		} else {
			b.WriteString(r.expr(n.Kids[0]))
			b.WriteString("(")
			r.exprList(&b, n.Kids[1:])
		}
		b.WriteString(")")
		return b.String()

	case KindConstruct:
		var b strings.Builder
		b.WriteString(r.typeName(n.Type))
		b.WriteString("{")
		r.exprList(&b, n.Kids)
		b.WriteString("}")
		return b.String()

	case KindComponent:
		return fmt.Sprintf("%s.%s", r.expr(n.Kids[0]), n.Str)

	case KindIf:
		s := fmt.Sprintf("if %s %s", r.expr(n.Kids[0]), r.inlineBlock(n.Kids[1]))
		if len(n.Kids) == 3 {
			s += fmt.Sprintf(" else %s", r.inlineBlock(n.Kids[2]))
		}
		return s

	case KindTry:
		catches := int(n.Int64)
		s := fmt.Sprintf("try %s", r.inlineBlock(n.Kids[0]))
		for i := 0; i < catches; i++ {
			s += " " + r.expr(n.Kids[1+i])
		}
		if len(n.Kids) > 1+catches {
			s += fmt.Sprintf(" finally %s", r.inlineBlock(n.Kids[len(n.Kids)-1]))
		}
		return s

	case KindCatch:
		name := "_"
		if n.Sym != NoSymbol {
			name = r.a.SymbolName(n.Sym)
		}
		return fmt.Sprintf("catch %s %s", name, r.inlineBlock(n.Kids[0]))

	case KindThrow:
		return fmt.Sprintf("throw %s", r.expr(n.Kids[0]))

	case KindReturn:
		if len(n.Kids) == 1 {
			return fmt.Sprintf("return %s", r.expr(n.Kids[0]))
		}
		return "return"

	case KindFuncRef:
		return "&" + r.a.SymbolName(n.Sym)

	case KindBlock:
		return r.inlineBlock(id)

	default:
		return fmt.Sprintf("<%s#%d>", n.Kind, id)
	}
}

// exprList renders expressions separated by ", ".
func (r *renderer) exprList(b *strings.Builder, ids []NodeID) {
	for i, id := range ids {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.expr(id))
	}
}

// inlineBlock renders a block on one line, statements separated by "; ".
func (r *renderer) inlineBlock(id NodeID) string {
	if id == NoNode {
		return "{}"
	}
	n := r.a.Node(id)
	if n.Kind != KindBlock {
		return "{ " + r.expr(id) + " }"
	}
	if len(n.Kids) == 0 {
		return "{}"
	}

	parts := make([]string, 0, len(n.Kids))
	for _, kid := range n.Kids {
		if r.a.Kind(kid) == KindLocal {
			ln := r.a.Node(kid)
			s := fmt.Sprintf("local %s: %s", ln.Name, r.typeName(ln.Type))
			if len(ln.Kids) == 1 {
				s += " = " + r.expr(ln.Kids[0])
			}
			parts = append(parts, s)
			continue
		}
		parts = append(parts, r.expr(kid))
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}
