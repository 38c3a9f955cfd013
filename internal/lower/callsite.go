package lower

import (
	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// ParamSig records one parameter of a function's pre-lowering signature.
type ParamSig struct {
	Name  string
	Type  layout.TypeID
	Flags tree.Flags
}

// ParamRun is one entry of a lowered signature: either a regular parameter
// carried over as-is (run length 1) or a composite parameter exploded into
// its leaves (run length = leaf count of its layout).
type ParamRun struct {
	Sig       ParamSig
	Flattened bool
}

// Len returns the number of explicit parameters the run occupies.
func (r ParamRun) Len(types *layout.Registry) int {
	if r.Flattened {
		return types.LeafCount(r.Sig.Type)
	}
	return 1
}

// ParamStructure describes how a lowered function's parameter list relates
// to its original one: one run per original parameter, in order. Leading
// synthetic parameters inserted by earlier passes appear as regular runs and
// keep their offsets.
type ParamStructure struct {
	Target tree.SymbolID
	Runs   []ParamRun
}

// NewCount returns the explicit parameter count of the lowered signature.
func (ps *ParamStructure) NewCount(types *layout.Registry) int {
	n := 0
	for _, r := range ps.Runs {
		n += r.Len(types)
	}
	return n
}

// Check validates the run-sum invariant against the lowered declaration.
func (ps *ParamStructure) Check(cx *Context) error {
	decl := cx.Arena.Decl(ps.Target)
	got := len(cx.Arena.FunctionParams(decl))
	if want := ps.NewCount(cx.Types); got != want {
		return cx.ice("E3030", decl, "lowered %s has %d parameters, runs sum to %d",
			cx.Arena.SymbolName(ps.Target), got, want)
	}
	return nil
}

// RewriteCall rewrites a direct call to a lowered function: each argument is
// matched to its run and flattened when the run is. The result is the call
// itself when no prelude is needed, otherwise a block running the prelude
// first. Arity mismatches on either side are internal errors; a silent
// repair would hide a broken earlier rewrite.
func (cx *Context) RewriteCall(owner, call tree.NodeID, ps *ParamStructure, mode Mode) (tree.NodeID, error) {
	a := cx.Arena
	n := a.Node(call)
	callType := n.Type
	args := append([]tree.NodeID(nil), n.Kids...)
	if len(args) != len(ps.Runs) {
		return tree.NoNode, cx.ice("E3031", call, "call of %s has %d arguments for %d entries",
			a.SymbolName(ps.Target), len(args), len(ps.Runs))
	}

	var prelude []tree.NodeID
	var newArgs []tree.NodeID
	for i, arg := range args {
		run := ps.Runs[i]
		if !run.Flattened {
			newArgs = append(newArgs, arg)
			continue
		}
		var sub []tree.NodeID
		leaves, err := cx.flatten(owner, arg, run.Sig.Type, mode, &sub)
		if err != nil {
			return tree.NoNode, err
		}
		if mode == ModeSafe {
			cx.captureLeaves(owner, &sub, leaves)
		}
		if len(sub) > 0 {
			// Arguments gathered so far must still evaluate before this
			// argument's prelude runs, in either mode.
			cx.captureLeaves(owner, &prelude, newArgs)
		}
		prelude = append(prelude, sub...)
		newArgs = append(newArgs, leaves...)
	}

	if got, want := len(newArgs), ps.NewCount(cx.Types); got != want {
		return tree.NoNode, cx.ice("E3032", call, "rewritten call of %s has %d arguments, want %d",
			a.SymbolName(ps.Target), got, want)
	}

	newCall := a.Call(callType, ps.Target, newArgs...)
	if len(prelude) == 0 {
		return newCall, nil
	}
	return a.Block(callType, append(prelude, newCall)...), nil
}

// ForwardingFunction returns a function that keeps the original unflattened
// calling shape of a lowered function, for use by first-class references.
// Its body performs the call-site rewrite and returns the result. One
// forwarder per target is synthesized and shared; it is appended to the
// unit's declarations.
func (cx *Context) ForwardingFunction(unit tree.NodeID, orig tree.SymbolID, ps *ParamStructure) (tree.SymbolID, error) {
	if fwd, ok := cx.forwarders[orig]; ok {
		return fwd, nil
	}

	a := cx.Arena
	ret := layout.NoType
	if decl := a.Node(a.Decl(ps.Target)); decl != nil {
		ret = decl.Type
	}

	params := make([]tree.NodeID, len(ps.Runs))
	reads := make([]tree.NodeID, len(ps.Runs))
	syms := make([]tree.SymbolID, len(ps.Runs))
	for i, run := range ps.Runs {
		flags := run.Sig.Flags | tree.FlagImmutable | tree.FlagSynthetic
		params[i], syms[i] = a.NewParam(run.Sig.Name, run.Sig.Type, flags)
		reads[i] = a.Read(run.Sig.Type, syms[i])
	}

	name := a.SymbolName(orig) + "$fwd"
	inner := a.Call(ret, ps.Target, reads...)
	body := a.Block(layout.NoType)
	fn, fwd := a.NewFunction(name, ret, params, body)
	a.Node(fn).Flags |= tree.FlagSynthetic

	rewritten, err := cx.RewriteCall(fn, inner, ps, ModeSafe)
	if err != nil {
		return tree.NoSymbol, err
	}
	a.AppendKid(body, a.Return(rewritten))
	if err := cx.DrainTemps(fn); err != nil {
		return tree.NoSymbol, err
	}

	a.AppendKid(unit, fn)
	cx.forwarders[orig] = fwd
	return fwd, nil
}
