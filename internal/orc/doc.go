// Package orc implements the layering core of a lazy JIT.
//
// A client registers compilation units, LLVM IR modules or relocatable
// object buffers, into a Library through an IRLayer or ObjectLayer. Each
// unit's symbol set is computed up front; compiling and linking are
// deferred until a lookup needs one of its symbols.
//
// FLOW:
//
//	layer.Add(lib, key, payload)
//	  -> flags computed (module scan / ObjectSymbolFlags)
//	  -> unit registered with lib.Define
//	lib.Lookup(ctx, name)
//	  -> unit.materialize(r)        exactly once
//	  -> layer.Emit(r, key, payload) backend compiles/links
//	  -> r.Resolve / r.Emit / r.Fail settle every symbol
//
// Before materialization a library may discard names from a unit when a
// stronger definition wins. IR units demote the overridden definition to
// available_externally; object units prune their flags map and backends
// expose only the names in the responsibility.
//
// ERRORS:
//
// Registration errors are synchronous and leave the library unchanged:
// *DuplicateDefinitionError, *ObjectFormatError, *UnsupportedFormatError.
// Compile and link errors are asynchronous and surface only by failing
// symbols through the Responsibility. Protocol misuse inside the core
// (materializing twice, discarding a name a unit does not own) panics.
//
// Session, Library and Responsibility provide just enough of a dynamic
// library to drive the layers: registration with duplicate checking,
// lookup-triggered materialization, and settle-once bookkeeping. They do
// not order cross-unit dependencies or bind addresses.
package orc
