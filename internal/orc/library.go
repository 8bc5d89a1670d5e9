package orc

import (
	"context"
	"fmt"
	"sync"
)

// SymbolState is the materialization state of a library symbol.
type SymbolState int

const (
	// SymbolLazy means the owning unit has not been materialized.
	SymbolLazy SymbolState = iota
	// SymbolMaterializing means a backend holds the responsibility.
	SymbolMaterializing
	// SymbolResolved means an address is known but not yet emitted.
	SymbolResolved
	// SymbolEmitted means the definition is ready for use.
	SymbolEmitted
	// SymbolFailed means the backend failed the symbol.
	SymbolFailed
)

func (s SymbolState) String() string {
	switch s {
	case SymbolLazy:
		return "lazy"
	case SymbolMaterializing:
		return "materializing"
	case SymbolResolved:
		return "resolved"
	case SymbolEmitted:
		return "emitted"
	case SymbolFailed:
		return "failed"
	}
	return fmt.Sprintf("SymbolState(%d)", int(s))
}

// SymbolInfo is a snapshot of one library symbol.
type SymbolInfo struct {
	Name    SymbolName
	Flags   SymbolFlags
	State   SymbolState
	Address uint64
	Key     ModuleKey
}

type symbolEntry struct {
	flags SymbolFlags
	state SymbolState
	addr  uint64
	key   ModuleKey
	// owner is set while the symbol is lazy.
	owner *unitEntry
}

type unitEntry struct {
	unit  Unit
	names map[SymbolName]struct{}
}

// Library is a symbol table into which units are registered. Looking up a
// lazy symbol materializes the unit that owns it.
//
// Thread-safety: all methods are safe for concurrent use. The library
// serializes every call it makes on a given unit.
type Library struct {
	session *Session
	name    string

	mu      sync.Mutex
	symbols map[SymbolName]*symbolEntry
	// changed is closed and replaced whenever any symbol changes state.
	changed chan struct{}
}

func newLibrary(s *Session, name string) *Library {
	return &Library{
		session: s,
		name:    name,
		symbols: make(map[SymbolName]*symbolEntry),
		changed: make(chan struct{}),
	}
}

// Name returns the library name.
func (l *Library) Name() string { return l.name }

// Session returns the owning session.
func (l *Library) Session() *Session { return l.session }

// Define registers u.
//
// For each symbol u promises:
//   - u weak, name already present: the name is discarded from u.
//   - u strong, existing weak and still lazy: the name is discarded from
//     the existing unit and u takes it over.
//   - otherwise, name present: *DuplicateDefinitionError.
//
// Conflicts are detected before any change, so a failed Define registers
// nothing and calls nothing on any unit. A unit left with no symbols is
// withdrawn immediately.
func (l *Library) Define(u Unit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	flags := u.Symbols()
	var dups, discardNew, overridden []SymbolName
	for _, name := range flags.Names() {
		existing, ok := l.symbols[name]
		if !ok {
			continue
		}
		switch {
		case flags[name].IsWeak():
			discardNew = append(discardNew, name)
		case existing.flags.IsWeak() && existing.state == SymbolLazy:
			overridden = append(overridden, name)
		default:
			dups = append(dups, name)
		}
	}
	if len(dups) > 0 {
		return &DuplicateDefinitionError{Library: l.name, Names: nameStrings(dups)}
	}

	for _, name := range discardNew {
		u.discard(l, name)
	}
	if len(discardNew) > 0 {
		l.session.record(EventDiscarded, l.name, u.Key(), discardNew)
	}
	for _, name := range overridden {
		l.discardFromOwner(name)
	}

	entry := &unitEntry{unit: u, names: make(map[SymbolName]struct{})}
	for name, f := range u.Symbols() {
		l.symbols[name] = &symbolEntry{flags: f, owner: entry, key: u.Key()}
		entry.names[name] = struct{}{}
	}
	names := u.Symbols().Names()
	l.session.record(EventAdded, l.name, u.Key(), names)
	l.session.logger.Debug("unit defined",
		"library", l.name,
		"key", u.Key(),
		"symbols", len(names),
		"discarded", len(discardNew),
		"overrode", len(overridden),
	)

	if len(entry.names) == 0 {
		u.release()
		l.session.record(EventWithdrawn, l.name, u.Key(), nil)
	}
	return nil
}

// discardFromOwner removes a lazy symbol from the unit that owns it.
// Caller holds l.mu.
func (l *Library) discardFromOwner(name SymbolName) {
	e := l.symbols[name]
	owner := e.owner
	owner.unit.discard(l, name)
	delete(owner.names, name)
	delete(l.symbols, name)
	l.session.record(EventDiscarded, l.name, owner.unit.Key(), []SymbolName{name})

	if len(owner.names) == 0 {
		owner.unit.release()
		l.session.record(EventWithdrawn, l.name, owner.unit.Key(), nil)
	}
}

// Lookup returns the emitted definitions of names, materializing their
// owning units as needed, and waits until every name is emitted, a name
// fails, or ctx is done.
func (l *Library) Lookup(ctx context.Context, names ...SymbolName) (SymbolMap, error) {
	names = uniqueNames(names)
	for {
		l.mu.Lock()
		var missing, failed []SymbolName
		for _, name := range names {
			e, ok := l.symbols[name]
			switch {
			case !ok:
				missing = append(missing, name)
			case e.state == SymbolFailed:
				failed = append(failed, name)
			}
		}
		if len(missing) > 0 {
			l.mu.Unlock()
			sortNames(missing)
			return nil, &SymbolsNotFoundError{Library: l.name, Names: nameStrings(missing)}
		}
		if len(failed) > 0 {
			l.mu.Unlock()
			sortNames(failed)
			return nil, &FailedToMaterializeError{Library: l.name, Names: nameStrings(failed)}
		}

		var pending []pendingMaterialization
		result := make(SymbolMap, len(names))
		for _, name := range names {
			e := l.symbols[name]
			switch e.state {
			case SymbolLazy:
				pending = append(pending, l.startMaterializing(e.owner))
			case SymbolEmitted:
				result[name] = SymbolDef{Address: e.addr, Flags: e.flags}
			}
		}
		wait := l.changed
		l.mu.Unlock()

		// Outside the lock: a synchronous backend settles straight back
		// into this library.
		for _, p := range pending {
			p.unit.materialize(p.r)
		}

		if len(result) == len(names) {
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// uniqueNames drops repeated names, keeping first occurrences in order.
func uniqueNames(names []SymbolName) []SymbolName {
	seen := make(map[SymbolName]struct{}, len(names))
	out := make([]SymbolName, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

type pendingMaterialization struct {
	unit Unit
	r    *Responsibility
}

// startMaterializing moves every symbol of owner out of the lazy state and
// builds the responsibility for them. Caller holds l.mu.
func (l *Library) startMaterializing(owner *unitEntry) pendingMaterialization {
	flags := make(SymbolFlagsMap, len(owner.names))
	for name := range owner.names {
		e := l.symbols[name]
		e.state = SymbolMaterializing
		e.owner = nil
		flags[name] = e.flags
	}
	key := owner.unit.Key()
	l.session.record(EventMaterializing, l.name, key, flags.Names())
	l.session.logger.Debug("materializing unit", "library", l.name, "key", key, "symbols", len(flags))
	return pendingMaterialization{unit: owner.unit, r: newResponsibility(l, key, flags)}
}

// Remove drops names from the library. Lazy names are discarded from their
// units; a unit that loses its last name is withdrawn and its payload
// released without emission. Names still materializing cannot be removed.
// On error nothing is removed.
func (l *Library) Remove(names ...SymbolName) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var missing, busy []SymbolName
	for _, name := range names {
		e, ok := l.symbols[name]
		switch {
		case !ok:
			missing = append(missing, name)
		case e.state == SymbolMaterializing || e.state == SymbolResolved:
			busy = append(busy, name)
		}
	}
	if len(missing) > 0 {
		sortNames(missing)
		return &SymbolsNotFoundError{Library: l.name, Names: nameStrings(missing)}
	}
	if len(busy) > 0 {
		sortNames(busy)
		return fmt.Errorf("cannot remove materializing symbols %v from library %q", nameStrings(busy), l.name)
	}

	for _, name := range names {
		e, ok := l.symbols[name]
		if !ok {
			continue // listed twice
		}
		if e.state != SymbolLazy {
			delete(l.symbols, name)
			continue
		}
		owner := e.owner
		if len(owner.names) == 1 {
			delete(owner.names, name)
			delete(l.symbols, name)
			owner.unit.release()
			l.session.record(EventWithdrawn, l.name, owner.unit.Key(), []SymbolName{name})
			continue
		}
		l.discardFromOwner(name)
	}
	l.broadcast()
	return nil
}

// withdrawAll releases every unit that has not started materializing.
func (l *Library) withdrawAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[*unitEntry]bool)
	for _, name := range l.namesLocked() {
		e := l.symbols[name]
		if e.state != SymbolLazy {
			continue
		}
		owner := e.owner
		delete(l.symbols, name)
		if seen[owner] {
			continue
		}
		seen[owner] = true
		withdrawn := make([]SymbolName, 0, len(owner.names))
		for n := range owner.names {
			withdrawn = append(withdrawn, n)
		}
		owner.unit.release()
		l.session.record(EventWithdrawn, l.name, owner.unit.Key(), withdrawn)
	}
	l.broadcast()
}

// Symbols returns a snapshot of every symbol, sorted by name.
func (l *Library) Symbols() []SymbolInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := l.namesLocked()
	out := make([]SymbolInfo, len(names))
	for i, name := range names {
		e := l.symbols[name]
		out[i] = SymbolInfo{Name: name, Flags: e.flags, State: e.state, Address: e.addr, Key: e.key}
	}
	return out
}

// State returns the state of one symbol.
func (l *Library) State(name SymbolName) (SymbolState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.symbols[name]
	if !ok {
		return 0, false
	}
	return e.state, true
}

func (l *Library) namesLocked() []SymbolName {
	names := make([]SymbolName, 0, len(l.symbols))
	for name := range l.symbols {
		names = append(names, name)
	}
	sortNames(names)
	return names
}

// settle moves names to state. Called by Responsibility.
func (l *Library) settle(names []SymbolName, state SymbolState, defs SymbolMap) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, name := range names {
		e, ok := l.symbols[name]
		if !ok {
			continue // removed after emission
		}
		e.state = state
		if def, ok := defs[name]; ok {
			e.addr = def.Address
		}
	}
	l.broadcast()
}

// broadcast wakes every waiting lookup. Caller holds l.mu.
func (l *Library) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}
