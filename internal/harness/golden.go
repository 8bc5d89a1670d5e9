package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/lazyjit/internal/canon"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Result.Trace))
	for i, ev := range s.Result.Trace {
		symbols := ev.Symbols
		if symbols == nil {
			symbols = []string{}
		}
		traceList[i] = map[string]any{
			"seq":     ev.Seq,
			"kind":    string(ev.Kind),
			"library": ev.Library,
			"key":     string(ev.Key),
			"symbols": symbols,
		}
	}

	state := make(map[string]any, len(s.Result.State))
	for lib, syms := range s.Result.State {
		libState := make(map[string]any, len(syms))
		for name, snap := range syms {
			entry := map[string]any{"state": snap.State}
			if snap.Address != 0 {
				entry["address"] = snap.Address
			}
			if snap.Key != "" {
				entry["key"] = snap.Key
			}
			libState[name] = entry
		}
		state[lib] = libState
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state":         state,
	}
}

// Canonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) Canonical() ([]byte, error) {
	return canon.Marshal(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Result: result}
	traceJSON, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
