// Package engine assembles a lazyjit session from a configuration.
//
// An Engine owns one orc.Session and the layer stack under it:
//
//	IRLayer -> compile.Emitter -> ObjectLayer -> link.Linker
//
// Modules added through the engine stay lazy until a lookup names one of
// their symbols. The first lookup materializes the owning unit, which is
// compiled, handed to the object layer and linked into the arena; every
// transition is recorded on the session clock and, when a store is
// attached, persisted under the engine's run ID.
//
// Linking is asynchronous by default. Run must be called (usually in its
// own goroutine) for lookups to complete, and Close stops the linker and
// flushes linked images to the store. WithSynchronous links on the
// goroutine performing the lookup, which gives a deterministic event
// sequence for tests and golden traces.
package engine
