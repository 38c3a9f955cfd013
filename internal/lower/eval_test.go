package lower

import (
	"fmt"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// A minimal tree interpreter used to check that lowering preserves behavior:
// values, side-effect order and exception points. Side effects are modeled
// through extern functions that append to a shared log.

type value struct {
	t    layout.TypeID
	n    int64
	comp []value
	fn   tree.SymbolID
}

func scalar(t layout.TypeID, n int64) value { return value{t: t, n: n} }

func (v value) String() string {
	if len(v.comp) > 0 {
		return fmt.Sprintf("%v", v.comp)
	}
	if v.fn != tree.NoSymbol {
		return fmt.Sprintf("&%d", v.fn)
	}
	return fmt.Sprintf("%d", v.n)
}

type externFn func(args []value) (value, error)

type evalEnv struct {
	a      *tree.Arena
	types  *layout.Registry
	vars   map[tree.SymbolID]value
	extern map[tree.SymbolID]externFn
	log    *[]string
}

func newEvalEnv(a *tree.Arena, types *layout.Registry, log *[]string) *evalEnv {
	return &evalEnv{
		a:      a,
		types:  types,
		vars:   make(map[tree.SymbolID]value),
		extern: make(map[tree.SymbolID]externFn),
		log:    log,
	}
}

type thrown struct{ v value }

func (t thrown) Error() string { return "thrown: " + t.v.String() }

type returned struct{ v value }

func (r returned) Error() string { return "returned" }

func (e *evalEnv) call(fn tree.SymbolID, args []value) (value, error) {
	if ext, ok := e.extern[fn]; ok {
		return ext(args)
	}
	decl := e.a.Decl(fn)
	if decl == tree.NoNode {
		return value{}, fmt.Errorf("call of unbound symbol %d", fn)
	}
	params := e.a.FunctionParams(decl)
	if len(params) != len(args) {
		return value{}, fmt.Errorf("call of %s with %d args for %d params",
			e.a.SymbolName(fn), len(args), len(params))
	}
	for i, p := range params {
		e.vars[e.a.Node(p).Sym] = args[i]
	}
	v, err := e.eval(e.a.FunctionBody(decl))
	if ret, ok := err.(returned); ok {
		return ret.v, nil
	}
	return v, err
}

func (e *evalEnv) eval(id tree.NodeID) (value, error) {
	n := e.a.Node(id)
	if n == nil {
		return value{}, fmt.Errorf("eval of dangling node %d", id)
	}

	switch n.Kind {
	case tree.KindConst:
		return scalar(n.Type, n.Int64), nil

	case tree.KindRead:
		if len(n.Kids) == 1 {
			return value{}, fmt.Errorf("field reads not supported by the test interpreter")
		}
		v, ok := e.vars[n.Sym]
		if !ok {
			return value{}, fmt.Errorf("read of undefined %s", e.a.SymbolName(n.Sym))
		}
		return v, nil

	case tree.KindWrite:
		if len(n.Kids) == 2 {
			return value{}, fmt.Errorf("field writes not supported by the test interpreter")
		}
		v, err := e.eval(n.Kids[0])
		if err != nil {
			return value{}, err
		}
		e.vars[n.Sym] = v
		return value{}, nil

	case tree.KindLocal:
		if len(n.Kids) == 1 {
			v, err := e.eval(n.Kids[0])
			if err != nil {
				return value{}, err
			}
			e.vars[n.Sym] = v
		}
		return value{}, nil

	case tree.KindBlock:
		var last value
		for _, kid := range n.Kids {
			v, err := e.eval(kid)
			if err != nil {
				return value{}, err
			}
			last = v
		}
		return last, nil

	case tree.KindConstruct:
		v := value{t: n.Type, comp: make([]value, len(n.Kids))}
		for i, kid := range n.Kids {
			kv, err := e.eval(kid)
			if err != nil {
				return value{}, err
			}
			v.comp[i] = kv
		}
		return v, nil

	case tree.KindComponent:
		recv, err := e.eval(n.Kids[0])
		if err != nil {
			return value{}, err
		}
		return e.project(recv, n.Str)

	case tree.KindIf:
		cond, err := e.eval(n.Kids[0])
		if err != nil {
			return value{}, err
		}
		if cond.n != 0 {
			return e.eval(n.Kids[1])
		}
		if len(n.Kids) == 3 {
			return e.eval(n.Kids[2])
		}
		return value{}, nil

	case tree.KindCall:
		if n.Sym != tree.NoSymbol {
			args, err := e.evalAll(n.Kids)
			if err != nil {
				return value{}, err
			}
			return e.call(n.Sym, args)
		}
		callee, err := e.eval(n.Kids[0])
		if err != nil {
			return value{}, err
		}
		args, err := e.evalAll(n.Kids[1:])
		if err != nil {
			return value{}, err
		}
		return e.call(callee.fn, args)

	case tree.KindFuncRef:
		return value{t: n.Type, fn: n.Sym}, nil

	case tree.KindThrow:
		v, err := e.eval(n.Kids[0])
		if err != nil {
			return value{}, err
		}
		return value{}, thrown{v}

	case tree.KindReturn:
		if len(n.Kids) == 1 {
			v, err := e.eval(n.Kids[0])
			if err != nil {
				return value{}, err
			}
			return value{}, returned{v}
		}
		return value{}, returned{}

	case tree.KindTry:
		return e.evalTry(n)

	default:
		return value{}, fmt.Errorf("eval of unsupported %s node", n.Kind)
	}
}

func (e *evalEnv) evalTry(n *tree.Node) (value, error) {
	catches := int(n.Int64)
	v, err := e.eval(n.Kids[0])

	if th, ok := err.(thrown); ok && catches > 0 {
		cn := e.a.Node(n.Kids[1])
		if cn.Sym != tree.NoSymbol {
			e.vars[cn.Sym] = th.v
		}
		v, err = e.eval(cn.Kids[0])
	}

	if len(n.Kids) > 1+catches {
		if _, ferr := e.eval(n.Kids[len(n.Kids)-1]); ferr != nil {
			return value{}, ferr
		}
	}
	return v, err
}

func (e *evalEnv) evalAll(ids []tree.NodeID) ([]value, error) {
	out := make([]value, len(ids))
	for i, id := range ids {
		v, err := e.eval(id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// project navigates a dotted component path through a composite value.
func (e *evalEnv) project(v value, path string) (value, error) {
	cur := v
	for _, seg := range splitPath(path) {
		t := e.types.Get(cur.t)
		if t == nil || t.Kind != layout.KindComposite {
			return value{}, fmt.Errorf("projection %q through non-composite %s", path, e.types.Name(cur.t))
		}
		found := -1
		for i, c := range t.Components {
			if c.Name == seg {
				found = i
				break
			}
		}
		if found < 0 || found >= len(cur.comp) {
			return value{}, fmt.Errorf("no component %q on %s", seg, t.Name)
		}
		cur = cur.comp[found]
	}
	return cur, nil
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	return append(out, path[start:])
}

// effect registers an extern that logs its tag and returns ret.
func (e *evalEnv) effect(sym tree.SymbolID, tag string, ret value) {
	e.extern[sym] = func(args []value) (value, error) {
		*e.log = append(*e.log, tag)
		return ret, nil
	}
}
