package orc

import (
	"sync"
)

type obligation int

const (
	obligationPending obligation = iota
	obligationResolved
	obligationEmitted
	obligationFailed
)

// Responsibility is the one-shot obligation to resolve and emit, or fail,
// a set of symbols a unit promised. The library hands one to a unit's
// materialize; from there it moves, with the payload, to a backend.
//
// Every symbol must end either emitted or failed. A backend that cannot
// finish calls Fail rather than dropping the responsibility: an unsettled
// symbol blocks every lookup that needs it.
//
// Thread-safety: safe for concurrent use, though a backend normally drives
// it from a single goroutine.
type Responsibility struct {
	lib *Library
	key ModuleKey

	mu     sync.Mutex
	flags  SymbolFlagsMap
	states map[SymbolName]obligation
}

func newResponsibility(lib *Library, key ModuleKey, flags SymbolFlagsMap) *Responsibility {
	states := make(map[SymbolName]obligation, len(flags))
	for name := range flags {
		states[name] = obligationPending
	}
	return &Responsibility{lib: lib, key: key, flags: flags, states: states}
}

// Library returns the library the symbols are defined in.
func (r *Responsibility) Library() *Library { return r.lib }

// Key returns the key of the unit being materialized.
func (r *Responsibility) Key() ModuleKey { return r.key }

// Symbols returns the symbols the holder must still settle, with their
// flags. Failed symbols are excluded.
func (r *Responsibility) Symbols() SymbolFlagsMap {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(SymbolFlagsMap, len(r.flags))
	for name, f := range r.flags {
		if r.states[name] != obligationFailed {
			out[name] = f
		}
	}
	return out
}

// Resolve records addresses for a subset of the symbols. Each name must be
// covered and not yet resolved or failed; otherwise nothing is recorded
// and a *ProtocolViolationError is returned. The flags in defs are
// replaced by the promised flags.
func (r *Responsibility) Resolve(defs SymbolMap) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var bad []SymbolName
	for name := range defs {
		if st, ok := r.states[name]; !ok || st != obligationPending {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return r.violation("resolve of symbols not pending in this responsibility", bad)
	}

	names := make([]SymbolName, 0, len(defs))
	settled := make(SymbolMap, len(defs))
	for name, def := range defs {
		r.states[name] = obligationResolved
		settled[name] = SymbolDef{Address: def.Address, Flags: r.flags[name]}
		names = append(names, name)
	}
	r.lib.settle(names, SymbolResolved, settled)
	r.lib.session.record(EventResolved, r.lib.name, r.key, names)
	return nil
}

// Emit marks every resolved symbol ready. All symbols that were not failed
// must have been resolved first.
func (r *Responsibility) Emit() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var unresolved, resolved []SymbolName
	for name, st := range r.states {
		switch st {
		case obligationPending:
			unresolved = append(unresolved, name)
		case obligationResolved:
			resolved = append(resolved, name)
		}
	}
	if len(unresolved) > 0 {
		return r.violation("emit before resolving", unresolved)
	}
	if len(resolved) == 0 {
		return nil
	}

	for _, name := range resolved {
		r.states[name] = obligationEmitted
	}
	r.lib.settle(resolved, SymbolEmitted, nil)
	r.lib.session.record(EventEmitted, r.lib.name, r.key, resolved)
	return nil
}

// Fail fails every symbol not yet emitted. Lookups of those symbols return
// *FailedToMaterializeError.
func (r *Responsibility) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []SymbolName
	for name, st := range r.states {
		if st == obligationPending || st == obligationResolved {
			names = append(names, name)
		}
	}
	r.failLocked(names)
}

// FailSymbols fails a subset. Each name must be covered and not yet
// emitted or failed.
func (r *Responsibility) FailSymbols(names ...SymbolName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var bad []SymbolName
	for _, name := range names {
		if st, ok := r.states[name]; !ok || st == obligationEmitted || st == obligationFailed {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return r.violation("fail of symbols not pending in this responsibility", bad)
	}
	r.failLocked(names)
	return nil
}

func (r *Responsibility) failLocked(names []SymbolName) {
	if len(names) == 0 {
		return
	}
	for _, name := range names {
		r.states[name] = obligationFailed
	}
	r.lib.settle(names, SymbolFailed, nil)
	r.lib.session.record(EventFailed, r.lib.name, r.key, names)

	sorted := make([]SymbolName, len(names))
	copy(sorted, names)
	sortNames(sorted)
	r.lib.session.logger.Warn("symbols failed to materialize",
		"library", r.lib.name,
		"key", r.key,
		"symbols", nameStrings(sorted),
	)
}

// Delegate moves pending names into a new responsibility for the same
// unit, so part of the work can be handed to another backend.
func (r *Responsibility) Delegate(names ...SymbolName) (*Responsibility, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var bad []SymbolName
	for _, name := range names {
		if st, ok := r.states[name]; !ok || st != obligationPending {
			bad = append(bad, name)
		}
	}
	if len(bad) > 0 {
		return nil, r.violation("delegate of symbols not pending in this responsibility", bad)
	}

	flags := make(SymbolFlagsMap, len(names))
	for _, name := range names {
		flags[name] = r.flags[name]
		delete(r.flags, name)
		delete(r.states, name)
	}
	return newResponsibility(r.lib, r.key, flags), nil
}

// CheckSettled returns a *ProtocolViolationError naming every symbol that
// is neither emitted nor failed, or nil once the obligation is met.
func (r *Responsibility) CheckSettled() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []SymbolName
	for name, st := range r.states {
		if st == obligationPending || st == obligationResolved {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		return r.violation("responsibility left symbols unsettled", open)
	}
	return nil
}

func (r *Responsibility) violation(msg string, names []SymbolName) *ProtocolViolationError {
	sortNames(names)
	return &ProtocolViolationError{Key: r.key, Message: msg, Names: nameStrings(names)}
}
