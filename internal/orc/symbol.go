package orc

import (
	"slices"
	"strings"
	"sync"
)

// DefaultReservedPrefixes lists name prefixes that never intern.
// LLVM reserves "llvm." for intrinsics and metadata globals.
var DefaultReservedPrefixes = []string{"llvm."}

// SymbolName is an interned symbol token.
//
// Two SymbolNames are equal iff they were interned from the same bytes in
// the same pool. Compare with ==.
type SymbolName = *symbolString

type symbolString struct {
	s string
}

// String returns the interned string.
func (n *symbolString) String() string {
	if n == nil {
		return "<nil>"
	}
	return n.s
}

// SymbolPool interns symbol strings.
//
// Thread-safety: SymbolPool is safe for concurrent use.
type SymbolPool struct {
	mu       sync.Mutex
	names    map[string]SymbolName
	reserved []string
}

// NewSymbolPool creates a pool that rejects the given reserved prefixes.
// A nil slice selects DefaultReservedPrefixes.
func NewSymbolPool(reserved []string) *SymbolPool {
	if reserved == nil {
		reserved = DefaultReservedPrefixes
	}
	return &SymbolPool{
		names:    make(map[string]SymbolName),
		reserved: slices.Clone(reserved),
	}
}

// Intern returns the unique token for name.
//
// Names are taken byte for byte: object files and backends match symbols on
// their exact bytes, so canonically equivalent Unicode spellings stay
// distinct. Empty and reserved names fail with *InvalidSymbolNameError.
func (p *SymbolPool) Intern(name string) (SymbolName, error) {
	if name == "" {
		return nil, &InvalidSymbolNameError{Name: name, Reason: "empty name"}
	}
	for _, prefix := range p.reserved {
		if strings.HasPrefix(name, prefix) {
			return nil, &InvalidSymbolNameError{Name: name, Reason: "reserved prefix " + prefix}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if sym, ok := p.names[name]; ok {
		return sym, nil
	}
	sym := &symbolString{s: name}
	p.names[name] = sym
	return sym, nil
}

// Len returns the number of interned names.
func (p *SymbolPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.names)
}

// SymbolFlags describes a symbol before it is compiled.
type SymbolFlags uint8

const (
	// FlagExported marks a symbol visible outside its library.
	FlagExported SymbolFlags = 1 << iota
	// FlagWeak marks a definition that a strong one may override.
	FlagWeak
	// FlagCallable marks a function. Data symbols leave it clear.
	FlagCallable
	// FlagCommon marks a common (tentative) data definition.
	FlagCommon
)

// IsWeak reports whether the flags carry weak linkage.
func (f SymbolFlags) IsWeak() bool { return f&FlagWeak != 0 }

// IsStrong reports whether the flags carry strong linkage.
func (f SymbolFlags) IsStrong() bool { return f&FlagWeak == 0 }

// IsCallable reports whether the symbol is a function.
func (f SymbolFlags) IsCallable() bool { return f&FlagCallable != 0 }

// IsExported reports whether the symbol is visible outside its library.
func (f SymbolFlags) IsExported() bool { return f&FlagExported != 0 }

// IsCommon reports whether the symbol is a common definition.
func (f SymbolFlags) IsCommon() bool { return f&FlagCommon != 0 }

// String renders flags as "strong|weak,callable|data[,exported][,common]".
func (f SymbolFlags) String() string {
	parts := make([]string, 0, 4)
	if f.IsWeak() {
		parts = append(parts, "weak")
	} else {
		parts = append(parts, "strong")
	}
	if f.IsCallable() {
		parts = append(parts, "callable")
	} else {
		parts = append(parts, "data")
	}
	if f.IsExported() {
		parts = append(parts, "exported")
	}
	if f.IsCommon() {
		parts = append(parts, "common")
	}
	return strings.Join(parts, ",")
}

// SymbolFlagsMap maps each promised symbol to its flags.
type SymbolFlagsMap map[SymbolName]SymbolFlags

// Names returns the map's keys sorted by string value.
func (m SymbolFlagsMap) Names() []SymbolName {
	names := make([]SymbolName, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sortNames(names)
	return names
}

// Clone returns a shallow copy.
func (m SymbolFlagsMap) Clone() SymbolFlagsMap {
	out := make(SymbolFlagsMap, len(m))
	for name, flags := range m {
		out[name] = flags
	}
	return out
}

// Strings returns sorted symbol strings, mostly for logging and events.
func (m SymbolFlagsMap) Strings() []string {
	return nameStrings(m.Names())
}

// SymbolDef is a resolved definition.
type SymbolDef struct {
	Address uint64
	Flags   SymbolFlags
}

// SymbolMap maps symbols to their resolved definitions.
type SymbolMap map[SymbolName]SymbolDef

func sortNames(names []SymbolName) {
	slices.SortFunc(names, func(a, b SymbolName) int {
		return strings.Compare(a.s, b.s)
	})
}

func nameStrings(names []SymbolName) []string {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = name.s
	}
	return out
}
