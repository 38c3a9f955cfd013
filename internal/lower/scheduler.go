package lower

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/loom-ir/loom/internal/layout"
	"github.com/loom-ir/loom/internal/tree"
)

// Pass is one lowering transformation over a compilation unit.
//
// Lower must run to completion, including the drain of any temporaries it
// registered, before the runner moves on; passes never interleave.
type Pass interface {
	// Name identifies the pass in manifests, logs and prerequisites.
	Name() string

	// Prerequisites names the passes that must have run before this one.
	// Order among prerequisites is not significant.
	Prerequisites() []string

	// Applicable reports whether the pass wants to transform the given
	// declaration.
	Applicable(cx *Context, decl tree.NodeID) bool

	// Lower transforms the unit in place.
	Lower(cx *Context, unit tree.NodeID) error
}

// Runner owns a pipeline of passes and executes them in dependency order
// over one unit at a time. It is single-threaded: the tree is exclusively
// owned for the duration of Run.
type Runner struct {
	types  *layout.Registry
	passes []Pass
	names  map[string]bool

	// Verify runs the structural tree verifier after every pass. Slower,
	// catches a corrupting pass right where it ran.
	Verify bool

	log commonlog.Logger
}

// NewRunner creates an empty pipeline over the given type registry.
func NewRunner(types *layout.Registry) *Runner {
	return &Runner{
		types: types,
		names: make(map[string]bool),
		log:   commonlog.GetLogger("loom.scheduler"),
	}
}

// Add appends a pass to the pipeline.
func (r *Runner) Add(p Pass) error {
	if r.names[p.Name()] {
		return fmt.Errorf("lower: duplicate pass %q", p.Name())
	}
	r.names[p.Name()] = true
	r.passes = append(r.passes, p)
	return nil
}

// Passes returns the registered passes in scheduled order.
func (r *Runner) Passes() ([]Pass, error) {
	return r.order()
}

// Run executes the pipeline over the unit. Each pass runs fully before the
// next starts; any error aborts the run.
func (r *Runner) Run(a *tree.Arena, unit tree.NodeID) error {
	order, err := r.order()
	if err != nil {
		return err
	}

	for _, p := range order {
		r.log.Infof("running pass %s", p.Name())
		cx := NewContext(a, r.types)
		if err := p.Lower(cx, unit); err != nil {
			return fmt.Errorf("lower: pass %s: %w", p.Name(), err)
		}
		if len(cx.temps) > 0 {
			return fmt.Errorf("lower: pass %s finished with undrained temporaries", p.Name())
		}
		if r.Verify {
			if err := tree.Verify(a, r.types, unit); err != nil {
				return fmt.Errorf("lower: after pass %s: %w", p.Name(), err)
			}
		}
	}
	return nil
}

// order resolves prerequisites into an execution order. The sort is stable:
// among ready passes, registration order wins, so pipelines are reproducible.
func (r *Runner) order() ([]Pass, error) {
	for _, p := range r.passes {
		for _, pre := range p.Prerequisites() {
			if !r.names[pre] {
				return nil, fmt.Errorf("lower: pass %s requires unknown pass %q", p.Name(), pre)
			}
		}
	}

	done := make(map[string]bool, len(r.passes))
	remaining := append([]Pass(nil), r.passes...)
	order := make([]Pass, 0, len(r.passes))

	for len(remaining) > 0 {
		progressed := false
		rest := remaining[:0]
		for _, p := range remaining {
			ready := true
			for _, pre := range p.Prerequisites() {
				if !done[pre] {
					ready = false
					break
				}
			}
			if !ready {
				rest = append(rest, p)
				continue
			}
			done[p.Name()] = true
			order = append(order, p)
			progressed = true
		}
		if !progressed {
			stuck := make([]string, len(rest))
			for i, p := range rest {
				stuck[i] = p.Name()
			}
			return nil, fmt.Errorf("lower: prerequisite cycle among passes %v", stuck)
		}
		remaining = rest
	}
	return order, nil
}

// EachApplicable visits the unit's function declarations in declaration
// order, including methods nested in classes, and invokes fn for those the
// pass claims. Deterministic visiting keeps generated names reproducible.
func EachApplicable(cx *Context, unit tree.NodeID, p Pass, fn func(decl tree.NodeID) error) error {
	a := cx.Arena
	var visit func(id tree.NodeID) error
	visit = func(id tree.NodeID) error {
		switch a.Kind(id) {
		case tree.KindUnit, tree.KindClass:
			for _, kid := range append([]tree.NodeID(nil), a.Kids(id)...) {
				if err := visit(kid); err != nil {
					return err
				}
			}
		case tree.KindFunction:
			if p.Applicable(cx, id) {
				return fn(id)
			}
		}
		return nil
	}
	return visit(unit)
}
