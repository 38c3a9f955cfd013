package tree

import (
	"testing"

	"github.com/loom-ir/loom/internal/layout"
)

func testTypes(t *testing.T) (*layout.Registry, layout.TypeID, layout.TypeID) {
	t.Helper()

	r := layout.NewRegistry()
	intID, err := r.AddScalar("int")
	if err != nil {
		t.Fatalf("AddScalar failed: %v", err)
	}
	pair, err := r.AddComposite("Pair2", []layout.Component{
		{Name: "x", Type: intID},
		{Name: "y", Type: intID},
	})
	if err != nil {
		t.Fatalf("AddComposite failed: %v", err)
	}
	return r, intID, pair
}

func TestAddSetsParents(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	c1 := a.ConstInt(intID, 1)
	c2 := a.ConstInt(intID, 2)
	blk := a.Block(intID, c1, c2)

	if a.Parent(c1) != blk || a.Parent(c2) != blk {
		t.Errorf("expected block %d to own both constants, got parents %d and %d",
			blk, a.Parent(c1), a.Parent(c2))
	}
	if len(a.Kids(blk)) != 2 {
		t.Errorf("expected 2 kids, got %d", len(a.Kids(blk)))
	}
}

func TestReplaceKid(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	old := a.ConstInt(intID, 1)
	blk := a.Block(intID, old)
	repl := a.ConstInt(intID, 9)

	if err := a.ReplaceKid(blk, old, repl); err != nil {
		t.Fatalf("ReplaceKid failed: %v", err)
	}
	if a.Kids(blk)[0] != repl {
		t.Errorf("expected child %d, got %d", repl, a.Kids(blk)[0])
	}
	if a.Parent(repl) != blk {
		t.Errorf("replacement not reparented: parent %d", a.Parent(repl))
	}

	if err := a.ReplaceKid(blk, old, repl); err == nil {
		t.Error("expected replacing a non-child to fail")
	}
}

func TestInsertAndRemoveKid(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	c1 := a.ConstInt(intID, 1)
	c3 := a.ConstInt(intID, 3)
	blk := a.Block(intID, c1, c3)

	c2 := a.ConstInt(intID, 2)
	if err := a.InsertKid(blk, 1, c2); err != nil {
		t.Fatalf("InsertKid failed: %v", err)
	}

	kids := a.Kids(blk)
	if len(kids) != 3 || kids[0] != c1 || kids[1] != c2 || kids[2] != c3 {
		t.Fatalf("unexpected kid order after insert: %v", kids)
	}

	if err := a.RemoveKid(blk, 0); err != nil {
		t.Fatalf("RemoveKid failed: %v", err)
	}
	kids = a.Kids(blk)
	if len(kids) != 2 || kids[0] != c2 {
		t.Errorf("unexpected kids after remove: %v", kids)
	}
}

func TestSymbolRebinding(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	decl, sym := a.NewLocal("x", intID, 0, NoNode)
	if a.Decl(sym) != decl {
		t.Fatalf("expected symbol bound to %d, got %d", decl, a.Decl(sym))
	}

	// Replace the declaration; the symbol survives via rebinding.
	repl, _ := a.NewLocal("x_lowered", intID, FlagSynthetic, NoNode)
	a.Bind(sym, repl)
	if a.Decl(sym) != repl {
		t.Errorf("expected rebound symbol to resolve to %d, got %d", repl, a.Decl(sym))
	}
	if a.SymbolName(sym) != "x" {
		t.Errorf("symbol name changed by rebinding: %q", a.SymbolName(sym))
	}
}

func TestFunctionHelpers(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	p1, _ := a.NewParam("a", intID, 0)
	p2, _ := a.NewParam("b", intID, 0)
	body := a.Block(intID, a.Return(a.ConstInt(intID, 0)))
	fn, _ := a.NewFunction("f", intID, []NodeID{p1, p2}, body)

	params := a.FunctionParams(fn)
	if len(params) != 2 || params[0] != p1 || params[1] != p2 {
		t.Errorf("unexpected params: %v", params)
	}
	if a.FunctionBody(fn) != body {
		t.Errorf("expected body %d, got %d", body, a.FunctionBody(fn))
	}
}

func TestSnapshotRestore(t *testing.T) {
	a := NewArena()
	_, intID, _ := testTypes(t)

	local, sym := a.NewLocal("x", intID, FlagImmutable, a.ConstInt(intID, 7))
	body := a.Block(intID, local, a.Return(a.Read(intID, sym)))
	fn, _ := a.NewFunction("f", intID, nil, body)
	unit := a.NewUnit("u", fn)

	nodes, syms := a.Snapshot()
	restored, err := Restore(nodes, syms)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Len() != a.Len() || restored.Symbols() != a.Symbols() {
		t.Fatalf("restored arena size mismatch")
	}
	if restored.Kind(unit) != KindUnit {
		t.Errorf("restored root kind = %s", restored.Kind(unit))
	}
	if restored.Decl(sym) != local {
		t.Errorf("restored symbol binding = %d, want %d", restored.Decl(sym), local)
	}
}
