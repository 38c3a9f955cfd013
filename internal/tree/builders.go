package tree

import (
	"github.com/loom-ir/loom/internal/layout"
)

// Construction helpers. Passes and tests build subtrees through these rather
// than filling Node literals by hand.

// ConstInt creates an integer literal of the given type.
func (a *Arena) ConstInt(t layout.TypeID, v int64) NodeID {
	return a.Add(Node{Kind: KindConst, Type: t, Int64: v})
}

// Read creates a read of the declaration bound to sym.
func (a *Arena) Read(t layout.TypeID, sym SymbolID) NodeID {
	return a.Add(Node{Kind: KindRead, Type: t, Sym: sym})
}

// FieldRead creates a read of field sym through the receiver expression.
func (a *Arena) FieldRead(t layout.TypeID, recv NodeID, sym SymbolID) NodeID {
	return a.Add(Node{Kind: KindRead, Type: t, Sym: sym, Kids: []NodeID{recv}})
}

// Write creates an assignment of val to the declaration bound to sym.
func (a *Arena) Write(sym SymbolID, val NodeID) NodeID {
	return a.Add(Node{Kind: KindWrite, Sym: sym, Kids: []NodeID{val}})
}

// FieldWrite creates an assignment of val to field sym through recv.
func (a *Arena) FieldWrite(sym SymbolID, recv, val NodeID) NodeID {
	return a.Add(Node{Kind: KindWrite, Sym: sym, Kids: []NodeID{recv, val}})
}

// Call creates a direct call to the function bound to callee.
func (a *Arena) Call(t layout.TypeID, callee SymbolID, args ...NodeID) NodeID {
	return a.Add(Node{Kind: KindCall, Type: t, Sym: callee, Kids: args})
}

// Construct creates a composite construction with one argument per component.
func (a *Arena) Construct(t layout.TypeID, args ...NodeID) NodeID {
	return a.Add(Node{Kind: KindConstruct, Type: t, Kids: args})
}

// Component creates an unboxing accessor read of the dotted component path
// from the receiver value.
func (a *Arena) Component(t layout.TypeID, recv NodeID, path string) NodeID {
	return a.Add(Node{Kind: KindComponent, Type: t, Str: path, Kids: []NodeID{recv}})
}

// Block creates a block whose value is the value of its last child.
func (a *Arena) Block(t layout.TypeID, kids ...NodeID) NodeID {
	return a.Add(Node{Kind: KindBlock, Type: t, Kids: kids})
}

// If creates a conditional; els may be NoNode.
func (a *Arena) If(t layout.TypeID, cond, then, els NodeID) NodeID {
	kids := []NodeID{cond, then}
	if els != NoNode {
		kids = append(kids, els)
	}
	return a.Add(Node{Kind: KindIf, Type: t, Kids: kids})
}

// Try creates a try expression with the given catch clauses; finally may be
// NoNode. The catch count is recorded on the node so the optional finally arm
// stays distinguishable.
func (a *Arena) Try(t layout.TypeID, body NodeID, catches []NodeID, finally NodeID) NodeID {
	kids := append([]NodeID{body}, catches...)
	if finally != NoNode {
		kids = append(kids, finally)
	}
	return a.Add(Node{Kind: KindTry, Type: t, Int64: int64(len(catches)), Kids: kids})
}

// Catch creates a catch clause; sym optionally binds the caught exception.
func (a *Arena) Catch(sym SymbolID, body NodeID) NodeID {
	return a.Add(Node{Kind: KindCatch, Sym: sym, Kids: []NodeID{body}})
}

// Throw creates a throw of val.
func (a *Arena) Throw(val NodeID) NodeID {
	return a.Add(Node{Kind: KindThrow, Kids: []NodeID{val}})
}

// Return creates a return statement; val may be NoNode.
func (a *Arena) Return(val NodeID) NodeID {
	if val == NoNode {
		return a.Add(Node{Kind: KindReturn})
	}
	return a.Add(Node{Kind: KindReturn, Kids: []NodeID{val}})
}

// FuncRef creates a first-class reference to the function bound to sym.
func (a *Arena) FuncRef(t layout.TypeID, sym SymbolID) NodeID {
	return a.Add(Node{Kind: KindFuncRef, Type: t, Sym: sym})
}

// NewParam declares a function parameter and binds a fresh symbol to it.
func (a *Arena) NewParam(name string, t layout.TypeID, flags Flags) (NodeID, SymbolID) {
	sym := a.NewSymbol(name)
	id := a.Add(Node{Kind: KindParam, Type: t, Sym: sym, Name: name, Flags: flags})
	a.Bind(sym, id)
	return id, sym
}

// NewLocal declares a local variable; init may be NoNode.
func (a *Arena) NewLocal(name string, t layout.TypeID, flags Flags, init NodeID) (NodeID, SymbolID) {
	sym := a.NewSymbol(name)
	var kids []NodeID
	if init != NoNode {
		kids = []NodeID{init}
	}
	id := a.Add(Node{Kind: KindLocal, Type: t, Sym: sym, Name: name, Flags: flags, Kids: kids})
	a.Bind(sym, id)
	return id, sym
}

// NewField declares a field inside a class.
func (a *Arena) NewField(name string, t layout.TypeID, flags Flags) (NodeID, SymbolID) {
	sym := a.NewSymbol(name)
	id := a.Add(Node{Kind: KindField, Type: t, Sym: sym, Name: name, Flags: flags})
	a.Bind(sym, id)
	return id, sym
}

// NewFunction declares a function with the given parameters and body block.
// The result type is recorded on the node.
func (a *Arena) NewFunction(name string, result layout.TypeID, params []NodeID, body NodeID) (NodeID, SymbolID) {
	sym := a.NewSymbol(name)
	kids := append(append([]NodeID(nil), params...), body)
	id := a.Add(Node{Kind: KindFunction, Type: result, Sym: sym, Name: name, Kids: kids})
	a.Bind(sym, id)
	return id, sym
}

// NewClass declares a class whose instances have composite type t.
func (a *Arena) NewClass(name string, t layout.TypeID, kids ...NodeID) (NodeID, SymbolID) {
	sym := a.NewSymbol(name)
	id := a.Add(Node{Kind: KindClass, Type: t, Sym: sym, Name: name, Kids: kids})
	a.Bind(sym, id)
	return id, sym
}

// NewUnit creates the root node owning the given top-level declarations.
func (a *Arena) NewUnit(name string, decls ...NodeID) NodeID {
	return a.Add(Node{Kind: KindUnit, Name: name, Kids: decls})
}
