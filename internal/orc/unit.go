package orc

// Unit is a compilation unit registered in a Library: a promise to provide
// definitions for Symbols() once materialized.
//
// The set of implementations is closed. Units are built by IRLayer (IR
// modules) and ObjectLayer (object buffers); the unexported methods keep
// other packages from adding kinds.
//
// Lifecycle, driven only by the owning Library:
//
//	CREATED -> discard* -> materialize (once, terminal)
//	CREATED -> discard* -> release     (withdrawn, terminal)
//
// The library serializes all calls on one unit and never discards after
// materialize.
type Unit interface {
	// Key returns the unit's compilation key.
	Key() ModuleKey

	// Symbols returns the unit's current flags map. The library treats it
	// as read-only.
	Symbols() SymbolFlagsMap

	// materialize hands the payload and r to the owning layer's emit.
	materialize(r *Responsibility)

	// discard drops name because a stronger definition won in lib.
	discard(lib *Library, name SymbolName)

	// release drops the payload without emission.
	release()
}

var (
	_ Unit = (*irLayerUnit)(nil)
	_ Unit = (*ObjectUnit)(nil)
)
