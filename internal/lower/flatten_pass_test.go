package lower

import (
	"strings"
	"testing"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// buildPairProgram builds:
//
//	func sum(p: Pair2): int { return add(p.x, p.y) }
//	func main(): int { return sum(Pair2{1, 2}) }
//
// with add as an extern.
func buildPairProgram(t *testing.T) (*tree.Arena, *layout.Registry, tree.NodeID, map[string]tree.SymbolID) {
	t.Helper()
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	addFn, addSym := extern(a, "add", intT, intT, intT)

	param, pSym := a.NewParam("p", pairT, tree.FlagImmutable)
	sumBody := a.Block(layout.NoType)
	sumFn, sumSym := a.NewFunction("sum", intT, []tree.NodeID{param}, sumBody)
	a.AppendKid(sumBody, a.Return(
		a.Call(intT, addSym,
			a.Component(intT, a.Read(pairT, pSym), "x"),
			a.Component(intT, a.Read(pairT, pSym), "y"))))

	mainBody := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, mainBody)
	a.AppendKid(mainBody, a.Return(
		a.Call(intT, sumSym,
			a.Construct(pairT, a.ConstInt(intT, 1), a.ConstInt(intT, 2)))))

	unit := a.NewUnit("demo", addFn, sumFn, mainFn)
	syms := map[string]tree.SymbolID{"add": addSym, "sum": sumSym, "main": mainSym}
	return a, types, unit, syms
}

func runPass(t *testing.T, a *tree.Arena, types *layout.Registry, unit tree.NodeID) {
	t.Helper()
	runner := NewRunner(types)
	runner.Verify = true
	if err := runner.Add(NewFlattenValues()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := runner.Run(a, unit); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestFlattenValuesPair(t *testing.T) {
	a, types, unit, syms := buildPairProgram(t)
	intT, _ := types.Lookup("int")

	nodes, symtab := a.Snapshot()
	orig, err := tree.Restore(nodes, symtab)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	runPass(t, a, types, unit)

	// The signature explodes into one parameter per leaf.
	sumDecl := a.Decl(syms["sum"])
	params := a.FunctionParams(sumDecl)
	if len(params) != 2 {
		t.Fatalf("Expected 2 parameters on sum, got %d", len(params))
	}
	if got := a.Node(params[0]).Name; got != "p$x" {
		t.Errorf("Expected first parameter p$x, got %s", got)
	}
	if got := a.Node(params[1]).Name; got != "p$y" {
		t.Errorf("Expected second parameter p$y, got %s", got)
	}

	// The call site passes leaves; no Pair2 value crosses the call.
	rendered := tree.Render(a, types, unit)
	if !strings.Contains(rendered, "sum(1, 2)") {
		t.Errorf("Expected flattened call sum(1, 2) in:\n%s", rendered)
	}

	// Behavior is unchanged.
	addHook := func(args []value) (value, error) {
		return scalar(intT, args[0].n+args[1].n), nil
	}

	var origLog []string
	origEnv := newEvalEnv(orig, types, &origLog)
	origEnv.extern[syms["add"]] = addHook
	want, err := origEnv.call(syms["main"], nil)
	if err != nil {
		t.Fatalf("eval original: %v", err)
	}

	var log []string
	env := newEvalEnv(a, types, &log)
	env.extern[syms["add"]] = addHook
	got, err := env.call(syms["main"], nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != want.n || got.n != 3 {
		t.Errorf("Expected main() = 3, got %d (original %d)", got.n, want.n)
	}
}

func TestFlattenValuesOpaqueArgument(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	addFn, addSym := extern(a, "add", intT, intT, intT)
	mkFn, mkSym := extern(a, "mkpair", pairT)

	param, pSym := a.NewParam("p", pairT, tree.FlagImmutable)
	sumBody := a.Block(layout.NoType)
	sumFn, sumSym := a.NewFunction("sum", intT, []tree.NodeID{param}, sumBody)
	a.AppendKid(sumBody, a.Return(
		a.Call(intT, addSym,
			a.Component(intT, a.Read(pairT, pSym), "x"),
			a.Component(intT, a.Read(pairT, pSym), "y"))))

	mainBody := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, mainBody)
	a.AppendKid(mainBody, a.Return(a.Call(intT, sumSym, a.Call(pairT, mkSym))))

	unit := a.NewUnit("demo", addFn, mkFn, sumFn, mainFn)

	runPass(t, a, types, unit)

	var log []string
	env := newEvalEnv(a, types, &log)
	env.extern[addSym] = func(args []value) (value, error) {
		return scalar(intT, args[0].n+args[1].n), nil
	}
	env.effect(mkSym, "mk", value{t: pairT, comp: []value{scalar(intT, 7), scalar(intT, 9)}})

	got, err := env.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != 16 {
		t.Errorf("Expected main() = 16, got %d", got.n)
	}
	if strings.Join(log, ",") != "mk" {
		t.Errorf("Expected mkpair to run exactly once, log %v", log)
	}
}

func TestFlattenValuesCallSiteEffectOrder(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	gFn, _ := extern(a, "g", intT, intT, pairT)
	effFn, effSym := extern(a, "effA", intT)
	mkFn, mkSym := extern(a, "mkpair", pairT)

	// g is given a lowered shape so its call sites get rewritten.
	param1, _ := a.NewParam("n", intT, tree.FlagImmutable)
	param2, pSym := a.NewParam("p", pairT, tree.FlagImmutable)
	hBody := a.Block(layout.NoType)
	hFn, hSym := a.NewFunction("h", intT, []tree.NodeID{param1, param2}, hBody)
	a.AppendKid(hBody, a.Return(a.Component(intT, a.Read(pairT, pSym), "x")))

	mainBody := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, mainBody)
	a.AppendKid(mainBody, a.Return(
		a.Call(intT, hSym, a.Call(intT, effSym), a.Call(pairT, mkSym))))

	unit := a.NewUnit("demo", gFn, effFn, mkFn, hFn, mainFn)

	runPass(t, a, types, unit)

	var log []string
	env := newEvalEnv(a, types, &log)
	env.effect(effSym, "A", scalar(intT, 5))
	env.effect(mkSym, "P", value{t: pairT, comp: []value{scalar(intT, 3), scalar(intT, 4)}})

	got, err := env.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != 3 {
		t.Errorf("Expected main() = 3, got %d", got.n)
	}
	if strings.Join(log, ",") != "A,P" {
		t.Errorf("Expected effect order [A P], got %v", log)
	}
}

func TestFlattenValuesLocal(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	addFn, addSym := extern(a, "add", intT, intT, intT)

	body := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, body)
	local, lSym := a.NewLocal("q", pairT, tree.FlagImmutable,
		a.Construct(pairT, a.ConstInt(intT, 10), a.ConstInt(intT, 20)))
	a.AppendKid(body, local)
	a.AppendKid(body, a.Return(
		a.Call(intT, addSym,
			a.Component(intT, a.Read(pairT, lSym), "x"),
			a.Component(intT, a.Read(pairT, lSym), "y"))))

	unit := a.NewUnit("demo", addFn, mainFn)

	runPass(t, a, types, unit)

	rendered := tree.Render(a, types, unit)
	if strings.Contains(rendered, "local q: Pair2") {
		t.Errorf("Expected composite local to be exploded:\n%s", rendered)
	}
	if !strings.Contains(rendered, "q$x") || !strings.Contains(rendered, "q$y") {
		t.Errorf("Expected leaf locals q$x and q$y:\n%s", rendered)
	}

	var log []string
	env := newEvalEnv(a, types, &log)
	env.extern[addSym] = func(args []value) (value, error) {
		return scalar(intT, args[0].n+args[1].n), nil
	}
	got, err := env.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != 30 {
		t.Errorf("Expected main() = 30, got %d", got.n)
	}
}

func TestFlattenValuesTryCatchLocal(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	addFn, addSym := extern(a, "add", intT, intT, intT)
	boomFn, boomSym := extern(a, "boom", intT)

	// The pair construction throws mid-arm and the catch recovers with a
	// replacement pair; the caught value and result must survive lowering.
	body := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, body)
	try := a.Try(pairT,
		a.Construct(pairT, a.Call(intT, boomSym), a.ConstInt(intT, 1)),
		[]tree.NodeID{a.Catch(tree.NoSymbol,
			a.Construct(pairT, a.ConstInt(intT, 3), a.ConstInt(intT, 4)))},
		tree.NoNode)
	local, qSym := a.NewLocal("q", pairT, tree.FlagImmutable, try)
	a.AppendKid(body, local)
	a.AppendKid(body, a.Return(
		a.Call(intT, addSym,
			a.Component(intT, a.Read(pairT, qSym), "x"),
			a.Component(intT, a.Read(pairT, qSym), "y"))))

	unit := a.NewUnit("demo", addFn, boomFn, mainFn)

	nodes, symtab := a.Snapshot()
	orig, err := tree.Restore(nodes, symtab)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	hook := func(env *evalEnv, log *[]string) {
		env.extern[addSym] = func(args []value) (value, error) {
			return scalar(intT, args[0].n+args[1].n), nil
		}
		env.extern[boomSym] = func([]value) (value, error) {
			*log = append(*log, "X")
			return value{}, thrown{scalar(intT, 9)}
		}
	}

	var wantLog []string
	wantEnv := newEvalEnv(orig, types, &wantLog)
	hook(wantEnv, &wantLog)
	want, err := wantEnv.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval original: %v", err)
	}

	runPass(t, a, types, unit)

	var log []string
	env := newEvalEnv(a, types, &log)
	hook(env, &log)
	got, err := env.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != want.n || got.n != 7 {
		t.Errorf("Expected main() = 7, got %d (original %d)", got.n, want.n)
	}
	if strings.Join(log, ",") != strings.Join(wantLog, ",") {
		t.Errorf("Expected effect log %v, got %v", wantLog, log)
	}
}

func TestFlattenValuesForwardsReferences(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	param, pSym := a.NewParam("p", pairT, tree.FlagImmutable)
	fBody := a.Block(layout.NoType)
	fFn, fSym := a.NewFunction("first", intT, []tree.NodeID{param}, fBody)
	a.AppendKid(fBody, a.Return(a.Component(intT, a.Read(pairT, pSym), "x")))

	funcT, err := types.AddScalar("fn")
	if err != nil {
		t.Fatalf("AddScalar: %v", err)
	}

	body := a.Block(layout.NoType)
	mainFn, mainSym := a.NewFunction("main", intT, nil, body)
	local, hSym := a.NewLocal("h", funcT, tree.FlagImmutable, a.FuncRef(funcT, fSym))
	a.AppendKid(body, local)
	indirect := a.Add(tree.Node{Kind: tree.KindCall, Type: intT, Kids: []tree.NodeID{
		a.Read(funcT, hSym),
		a.Construct(pairT, a.ConstInt(intT, 3), a.ConstInt(intT, 4)),
	}})
	a.AppendKid(body, a.Return(indirect))

	unit := a.NewUnit("demo", fFn, mainFn)

	runPass(t, a, types, unit)

	rendered := tree.Render(a, types, unit)
	if !strings.Contains(rendered, "first$fwd") {
		t.Errorf("Expected a forwarding function for first:\n%s", rendered)
	}

	var log []string
	env := newEvalEnv(a, types, &log)
	got, err := env.call(mainSym, nil)
	if err != nil {
		t.Fatalf("eval lowered: %v", err)
	}
	if got.n != 3 {
		t.Errorf("Expected main() = 3, got %d", got.n)
	}
}

func TestFlattenValuesFields(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()

	objT, err := types.AddScalar("obj")
	if err != nil {
		t.Fatalf("AddScalar: %v", err)
	}

	field, fieldSym := a.NewField("pos", pairT, 0)
	class, _ := a.NewClass("Sprite", objT, field)

	// A method writing its own pos field from a constructor-origin write.
	param, selfSym := a.NewParam("self", objT, tree.FlagImmutable)
	body := a.Block(layout.NoType)
	initFn, _ := a.NewFunction("init", layout.NoType, []tree.NodeID{param}, body)
	a.AppendKid(class, initFn)
	write := a.FieldWrite(fieldSym, a.Read(objT, selfSym),
		a.Construct(pairT, a.ConstInt(intT, 1), a.ConstInt(intT, 2)))
	a.Node(write).Flags |= tree.FlagConstructorInit
	a.AppendKid(body, write)

	unit := a.NewUnit("demo", class)

	runPass(t, a, types, unit)

	rendered := tree.Render(a, types, unit)
	if strings.Contains(rendered, "field pos: Pair2") {
		t.Errorf("Expected composite field to be exploded:\n%s", rendered)
	}
	if !strings.Contains(rendered, "field pos$x: int") || !strings.Contains(rendered, "field pos$y: int") {
		t.Errorf("Expected leaf fields pos$x and pos$y:\n%s", rendered)
	}
	if !strings.Contains(rendered, "self.pos$x = 1") || !strings.Contains(rendered, "self.pos$y = 2") {
		t.Errorf("Expected per-leaf field writes:\n%s", rendered)
	}
	// Constructor-origin writes lower without capture temporaries.
	if strings.Contains(rendered, "tmp") {
		t.Errorf("Expected no temporaries for constructor init:\n%s", rendered)
	}
}

func TestFlattenValuesIdempotent(t *testing.T) {
	a, types, unit, _ := buildPairProgram(t)
	runPass(t, a, types, unit)
	first := tree.Render(a, types, unit)
	runPass(t, a, types, unit)
	second := tree.Render(a, types, unit)
	if first != second {
		t.Errorf("Expected a second run to change nothing.\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestRewriteCallArityMismatch(t *testing.T) {
	types, intT, pairT, _ := testTypes(t)
	a := tree.NewArena()
	param, _ := a.NewParam("p", pairT, tree.FlagImmutable)
	fn, fnSym := a.NewFunction("f", intT, []tree.NodeID{param}, a.Block(layout.NoType))
	cx := NewContext(a, types)

	ps := &ParamStructure{Target: fnSym, Runs: []ParamRun{
		{Sig: ParamSig{Name: "p", Type: pairT}, Flattened: true},
	}}

	call := a.Call(intT, fnSym, a.ConstInt(intT, 1), a.ConstInt(intT, 2))
	if _, err := cx.RewriteCall(fn, call, ps, ModeSafe); err == nil {
		t.Fatal("Expected arity mismatch error, got nil")
	}
}
