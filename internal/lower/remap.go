package lower

import (
	"fmt"

	"github.com/loom-ir/loom/internal/tree"
)

// Replacement records what a retired declaration was replaced with. Exactly
// one of the two fields is set: Single for one-for-one replacement, Inst for
// a declaration exploded into per-leaf declarations.
type Replacement struct {
	Single tree.SymbolID
	Inst   *Instance
}

// IsFlattened reports whether the replacement is a leaf explosion.
func (r Replacement) IsFlattened() bool { return r.Inst != nil }

// RemapTable tracks declarations retired during the current pass so that
// later rewrites in the same pass can redirect references to the
// replacements. The table is transient per pass run.
type RemapTable struct {
	entries map[tree.SymbolID]Replacement
}

// NewRemapTable creates an empty table.
func NewRemapTable() *RemapTable {
	return &RemapTable{entries: make(map[tree.SymbolID]Replacement)}
}

// AddSingle records a one-for-one replacement of old by sym.
func (t *RemapTable) AddSingle(old, sym tree.SymbolID) error {
	return t.add(old, Replacement{Single: sym})
}

// AddFlattened records the explosion of old into the instance's leaves.
func (t *RemapTable) AddFlattened(old tree.SymbolID, inst *Instance) error {
	return t.add(old, Replacement{Inst: inst})
}

func (t *RemapTable) add(old tree.SymbolID, r Replacement) error {
	if old == tree.NoSymbol {
		return fmt.Errorf("lower: remap of the null symbol")
	}
	if _, dup := t.entries[old]; dup {
		return fmt.Errorf("lower: symbol %d remapped twice in one pass", old)
	}
	t.entries[old] = r
	return nil
}

// Lookup returns the replacement for old, if any.
func (t *RemapTable) Lookup(old tree.SymbolID) (Replacement, bool) {
	r, ok := t.entries[old]
	return r, ok
}

// Len returns the number of retired declarations.
func (t *RemapTable) Len() int { return len(t.entries) }

// Reset clears the table for the next pass run.
func (t *RemapTable) Reset() {
	t.entries = make(map[tree.SymbolID]Replacement)
}
