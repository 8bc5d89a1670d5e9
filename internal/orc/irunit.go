package orc

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/value"
)

// SymbolToDefinitionMap maps each promised symbol to the *ir.Global,
// *ir.Func or *ir.Alias that defines it inside the unit's module.
type SymbolToDefinitionMap map[SymbolName]value.Named

// IRUnit wraps an IR module together with the symbols it promises.
//
// When a symbol is overridden its definition is demoted to
// available_externally instead of rescanning the module, so references
// inside the module still resolve against the winning definition.
type IRUnit struct {
	module *ir.Module
	flags  SymbolFlagsMap
	defs   SymbolToDefinitionMap
}

// NewIRUnit scans m and records every definition visible outside it.
// A module with no such definitions yields an empty unit.
func NewIRUnit(s *Session, m *ir.Module) (*IRUnit, error) {
	u := &IRUnit{
		module: m,
		flags:  make(SymbolFlagsMap),
		defs:   make(SymbolToDefinitionMap),
	}

	add := func(def value.Named, linkage enum.Linkage, vis enum.Visibility, callable bool) error {
		if !isExternalDefinitionLinkage(linkage) {
			return nil
		}
		name, err := s.Intern(s.Mangle(def.Name()))
		if err != nil {
			return fmt.Errorf("scan module: %w", err)
		}
		u.flags[name] = irSymbolFlags(linkage, vis, callable)
		u.defs[name] = def
		return nil
	}

	for _, g := range m.Globals {
		if g.Init == nil {
			continue // declaration
		}
		if err := add(g, g.Linkage, g.Visibility, false); err != nil {
			return nil, err
		}
	}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue // declaration
		}
		if err := add(f, f.Linkage, f.Visibility, true); err != nil {
			return nil, err
		}
	}
	for _, a := range m.Aliases {
		_, callable := a.Aliasee.(*ir.Func)
		if err := add(a, a.Linkage, a.Visibility, callable); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// NewIRUnitFromMaps wraps m with maps computed elsewhere, typically by a
// layer handing a unit to another layer.
//
// The caller guarantees that flags and defs have identical key sets and
// that every definition belongs to m. This is not checked: checking would
// require the rescan this constructor exists to avoid.
func NewIRUnitFromMaps(m *ir.Module, flags SymbolFlagsMap, defs SymbolToDefinitionMap) *IRUnit {
	return &IRUnit{module: m, flags: flags, defs: defs}
}

// Symbols returns the unit's flags map.
func (u *IRUnit) Symbols() SymbolFlagsMap { return u.flags }

// Module returns the owned module, or nil once it has been handed on.
func (u *IRUnit) Module() *ir.Module { return u.module }

// discard demotes name's definition to available_externally.
func (u *IRUnit) discard(_ *Library, name SymbolName) {
	def, ok := u.defs[name]
	if !ok {
		fatalf("discard of %s: not provided by this unit, or previously discarded", name)
	}
	setLinkage(def, enum.LinkageAvailableExternally)
	delete(u.defs, name)
	delete(u.flags, name)
}

func (u *IRUnit) release() {
	u.module = nil
	u.flags = nil
	u.defs = nil
}

// take transfers the module out of the unit.
func (u *IRUnit) take() *ir.Module {
	m := u.module
	u.module = nil
	u.defs = nil
	return m
}

// isExternalDefinitionLinkage reports whether a definition with linkage l
// is visible outside its module and actually emitted there.
func isExternalDefinitionLinkage(l enum.Linkage) bool {
	switch l {
	case enum.LinkageInternal, enum.LinkagePrivate,
		enum.LinkageAvailableExternally, enum.LinkageAppending:
		return false
	}
	return true
}

// isWeakLinkage reports whether another definition may replace one with
// linkage l (weak or mergeable).
func isWeakLinkage(l enum.Linkage) bool {
	switch l {
	case enum.LinkageWeak, enum.LinkageWeakODR,
		enum.LinkageLinkOnce, enum.LinkageLinkOnceODR,
		enum.LinkageCommon, enum.LinkageExternWeak:
		return true
	}
	return false
}

func irSymbolFlags(l enum.Linkage, vis enum.Visibility, callable bool) SymbolFlags {
	var f SymbolFlags
	if vis != enum.VisibilityHidden {
		f |= FlagExported
	}
	if isWeakLinkage(l) {
		f |= FlagWeak
	}
	if l == enum.LinkageCommon {
		f |= FlagCommon
	}
	if callable {
		f |= FlagCallable
	}
	return f
}

func setLinkage(def value.Named, l enum.Linkage) {
	switch d := def.(type) {
	case *ir.Global:
		d.Linkage = l
	case *ir.Func:
		d.Linkage = l
	case *ir.Alias:
		d.Linkage = l
	default:
		fatalf("definition %s has unsupported kind %T", def.Name(), def)
	}
}
