// Package harness runs YAML conformance scenarios against a lazyjit engine.
//
// Each scenario gets a fresh synchronous engine backed by an in-memory
// store, sequential module keys and a clock starting at zero, so the same
// scenario always produces the same event trace and link addresses. The
// trace can then be compared against a golden file.
//
// Scenario files are YAML:
//
//	name: weak-override
//	description: strong object definition overrides a weak IR one
//	setup:
//	  - key: lib-ir
//	    ir: |
//	      define weak i32 @bar() { ... }
//	  - key: strong-obj
//	    object:
//	      - name: bar
//	flow:
//	  - lookup: [bar]
//	assertions:
//	  - type: event_order
//	    key: lib-ir
//	    kinds: [added, discarded, withdrawn]
//
// Flow steps add a unit, look names up or remove names; each may carry an
// expect clause naming an error code and the names the error reports.
package harness
