package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/lazyjit/internal/orc"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []orc.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s/%s %v\n", ev.Seq, ev.Kind, ev.Library, ev.Key, ev.Symbols)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns one
// message per failure, in assertion order.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func evaluateAssertion(result *Result, a Assertion) error {
	switch a.Type {
	case AssertEventContains:
		return assertEventContains(result.Trace, a)
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result.State, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

// assertEventContains checks for an event of the given kind whose symbols
// include every listed symbol.
func assertEventContains(trace []orc.Event, a Assertion) error {
	for _, ev := range trace {
		if string(ev.Kind) != a.Kind || (a.Key != "" && string(ev.Key) != a.Key) {
			continue
		}
		if containsAll(ev.Symbols, a.Symbols) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("%s event for key %q with symbols %v", a.Kind, a.Key, a.Symbols),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that a.Kinds occur, in order, among the events
// of a.Key. Other events may come between them.
func assertEventOrder(trace []orc.Event, a Assertion) error {
	var got []string
	next := 0
	for _, ev := range trace {
		if string(ev.Key) != a.Key {
			continue
		}
		got = append(got, string(ev.Kind))
		if next < len(a.Kinds) && string(ev.Kind) == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("key %q events in order %v", a.Key, a.Kinds),
		Actual:   fmt.Sprintf("%v (missing %s)", got, a.Kinds[next]),
		Trace:    trace,
	}
}

// assertEventCount checks the number of events of a kind.
func assertEventCount(trace []orc.Event, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if string(ev.Kind) == a.Kind && (a.Key == "" || string(ev.Key) == a.Key) {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
		Actual:   fmt.Sprintf("%d %s events", count, a.Kind),
		Trace:    trace,
	}
}

// assertFinalState checks symbol states in one library. "absent" means
// the library does not hold the name.
func assertFinalState(state map[string]map[string]SymbolSnapshot, a Assertion) error {
	lib := a.Library
	if lib == "" {
		lib = orc.DefaultMainLibrary
	}
	syms := state[lib]
	for name, want := range a.States {
		got := "absent"
		if snap, ok := syms[name]; ok {
			got = snap.State
		}
		if got != want {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s/%s %s", lib, name, want),
				Actual:   got,
			}
		}
	}
	return nil
}

func containsAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	for _, s := range want {
		if !set[s] {
			return false
		}
	}
	return true
}
