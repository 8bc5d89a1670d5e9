package orc

import (
	"github.com/llir/llvm/ir"
)

// IREmitter is implemented by backends that compile IR modules.
//
// Emit receives ownership of r and m. Before giving up r it must resolve
// and emit, or fail, every symbol in r.Symbols(); leaving any unsettled
// blocks every lookup that depends on them. Emit may return before that
// happens (for example after queueing the work).
type IREmitter interface {
	Emit(r *Responsibility, key ModuleKey, m *ir.Module)
}

// IRLayer accepts IR modules and defers their compilation to an IREmitter.
type IRLayer struct {
	session *Session
	emitter IREmitter
}

// NewIRLayer creates a layer that emits through e.
func NewIRLayer(s *Session, e IREmitter) *IRLayer {
	return &IRLayer{session: s, emitter: e}
}

// Session returns the session the layer borrows.
func (l *IRLayer) Session() *Session { return l.session }

// Add registers m in lib under key. Nothing is compiled until one of its
// symbols is looked up.
//
// If lib already strongly defines one of m's strong symbols, Add returns a
// *DuplicateDefinitionError, registers nothing, and leaves m unmodified for
// the caller.
func (l *IRLayer) Add(lib *Library, key ModuleKey, m *ir.Module) error {
	u, err := NewIRUnit(l.session, m)
	if err != nil {
		return err
	}
	return l.AddUnit(lib, key, u)
}

// AddToMain is Add targeting the session's main library.
func (l *IRLayer) AddToMain(key ModuleKey, m *ir.Module) error {
	return l.Add(l.session.MainLibrary(), key, m)
}

// AddUnit registers an already built IRUnit, for example one constructed
// with NewIRUnitFromMaps, so that it materializes through this layer.
func (l *IRLayer) AddUnit(lib *Library, key ModuleKey, u *IRUnit) error {
	return lib.Define(&irLayerUnit{IRUnit: u, layer: l, key: key})
}

// Emit hands the module to the backend.
func (l *IRLayer) Emit(r *Responsibility, key ModuleKey, m *ir.Module) {
	l.emitter.Emit(r, key, m)
}

// irLayerUnit materializes an IRUnit by calling Emit on its layer.
type irLayerUnit struct {
	*IRUnit
	layer        *IRLayer
	key          ModuleKey
	materialized bool
}

func (u *irLayerUnit) Key() ModuleKey { return u.key }

func (u *irLayerUnit) materialize(r *Responsibility) {
	if u.materialized {
		fatalf("unit %s materialized twice", u.key)
	}
	u.materialized = true
	u.layer.Emit(r, u.key, u.take())
}

// ObjectEmitter is implemented by backends that link object files.
// It carries the same obligations as IREmitter.
type ObjectEmitter interface {
	Emit(r *Responsibility, key ModuleKey, obj []byte)
}

// ObjectLayer accepts relocatable object buffers and defers linking to an
// ObjectEmitter.
type ObjectLayer struct {
	session *Session
	emitter ObjectEmitter
}

// NewObjectLayer creates a layer that emits through e.
func NewObjectLayer(s *Session, e ObjectEmitter) *ObjectLayer {
	return &ObjectLayer{session: s, emitter: e}
}

// Session returns the session the layer borrows.
func (l *ObjectLayer) Session() *Session { return l.session }

// Add registers obj in lib under key. The symbol table is read now; the
// object is linked when one of its symbols is first looked up.
//
// Unparseable objects fail with *ObjectFormatError or
// *UnsupportedFormatError before anything is registered.
func (l *ObjectLayer) Add(lib *Library, key ModuleKey, obj []byte) error {
	u, err := CreateObjectUnit(l, key, obj)
	if err != nil {
		return err
	}
	return lib.Define(u)
}

// AddToMain is Add targeting the session's main library.
func (l *ObjectLayer) AddToMain(key ModuleKey, obj []byte) error {
	return l.Add(l.session.MainLibrary(), key, obj)
}

// Emit hands the object to the backend.
func (l *ObjectLayer) Emit(r *Responsibility, key ModuleKey, obj []byte) {
	l.emitter.Emit(r, key, obj)
}

// ObjectUnit materializes an object buffer by calling Emit on its layer.
//
// Discarded symbols are pruned from the flags map only. The bytes still
// define them; backends must expose just the names in the responsibility.
type ObjectUnit struct {
	layer        *ObjectLayer
	key          ModuleKey
	obj          []byte
	flags        SymbolFlagsMap
	materialized bool
}

// NewObjectUnit wraps obj with a flags map computed elsewhere.
func NewObjectUnit(l *ObjectLayer, key ModuleKey, obj []byte, flags SymbolFlagsMap) *ObjectUnit {
	return &ObjectUnit{layer: l, key: key, obj: obj, flags: flags}
}

// CreateObjectUnit extracts obj's symbol flags and wraps it. On a parse
// failure no unit is built.
func CreateObjectUnit(l *ObjectLayer, key ModuleKey, obj []byte) (*ObjectUnit, error) {
	flags, err := ObjectSymbolFlags(l.session, obj)
	if err != nil {
		return nil, err
	}
	return NewObjectUnit(l, key, obj, flags), nil
}

// Key returns the unit's compilation key.
func (u *ObjectUnit) Key() ModuleKey { return u.key }

// Symbols returns the unit's flags map.
func (u *ObjectUnit) Symbols() SymbolFlagsMap { return u.flags }

func (u *ObjectUnit) materialize(r *Responsibility) {
	if u.materialized {
		fatalf("unit %s materialized twice", u.key)
	}
	u.materialized = true
	obj := u.obj
	u.obj = nil
	u.layer.Emit(r, u.key, obj)
}

func (u *ObjectUnit) discard(_ *Library, name SymbolName) {
	if _, ok := u.flags[name]; !ok {
		fatalf("discard of %s: not provided by unit %s, or previously discarded", name, u.key)
	}
	delete(u.flags, name)
}

func (u *ObjectUnit) release() {
	u.obj = nil
	u.flags = nil
}
