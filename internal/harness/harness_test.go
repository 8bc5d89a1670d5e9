package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lazyjit/internal/orc"
)

const fooModule = `
define i32 @foo() {
entry:
  ret i32 0
}
`

func TestRun_LookupMaterializesUnit(t *testing.T) {
	scenario := &Scenario{
		Name:        "lookup",
		Description: "lookup materializes",
		Setup:       []UnitStep{{Key: "m", IR: fooModule}},
		Flow:        []FlowStep{{Lookup: []string{"foo"}, Expect: &ExpectClause{Names: []string{"foo"}}}},
		Assertions: []Assertion{
			{Type: AssertEventOrder, Key: "m", Kinds: []string{"added", "materializing", "resolved", "emitted"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 4)
	assert.Equal(t, "emitted", result.State["main"]["foo"].State)
	assert.NotZero(t, result.State["main"]["foo"].Address)
}

func TestRun_UnkeyedUnitsGetSequentialKeys(t *testing.T) {
	scenario := &Scenario{
		Name:        "keys",
		Description: "keys",
		Setup:       []UnitStep{{IR: fooModule}},
		Flow:        []FlowStep{{Add: &UnitStep{Object: []ObjectSymbol{{Name: "bar"}}}}},
		Assertions:  []Assertion{{Type: AssertEventCount, Kind: "added", Count: 2}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, orc.ModuleKey("unit-1"), result.Trace[0].Key)
	assert.Equal(t, orc.ModuleKey("unit-2"), result.Trace[1].Key)
}

func TestRun_UnexpectedOutcomesAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "every expect is wrong",
		Setup:       []UnitStep{{Key: "m", IR: fooModule}},
		Flow: []FlowStep{
			{Lookup: []string{"missing"}},
			{Lookup: []string{"foo"}, Expect: &ExpectClause{Error: "SYMBOLS_NOT_FOUND"}},
			{Lookup: []string{"nope"}, Expect: &ExpectClause{Error: "FAILED_TO_MATERIALIZE"}},
			{Lookup: []string{"nope", "zip"}, Expect: &ExpectClause{Error: "SYMBOLS_NOT_FOUND", Names: []string{"zip"}}},
		},
		Assertions: []Assertion{{Type: AssertEventCount, Kind: "failed", Count: 1}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "flow[0]: expected success")
	assert.Contains(t, result.Errors[1], "flow[1]: expected error SYMBOLS_NOT_FOUND, got success")
	assert.Contains(t, result.Errors[2], `flow[2]: expected error FAILED_TO_MATERIALIZE, got "SYMBOLS_NOT_FOUND"`)
	assert.Contains(t, result.Errors[3], "flow[3]: expected error names [zip], got [nope zip]")
	assert.Contains(t, result.Errors[4], "assertions[0]")
}

func TestRun_FailedMaterialization(t *testing.T) {
	// llc cannot be started, so compiling the unit fails.
	scenario := &Scenario{
		Name:        "failed",
		Description: "compiler failure fails the unit",
		Config:      map[string]any{"compiler": "llc", "llc_path": "/nonexistent/bin/llc"},
		Setup:       []UnitStep{{Key: "m", IR: fooModule}},
		Flow: []FlowStep{
			{
				Lookup: []string{"foo"},
				Expect: &ExpectClause{Error: "FAILED_TO_MATERIALIZE", Names: []string{"foo"}},
			},
		},
		Assertions: []Assertion{
			{Type: AssertEventOrder, Key: "m", Kinds: []string{"added", "materializing", "failed"}},
			{Type: AssertFinalState, States: map[string]string{"foo": "failed"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupFailureAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "setup",
		Description: "duplicate in setup",
		Setup:       []UnitStep{{Key: "a", IR: fooModule}, {Key: "b", IR: fooModule}},
		Flow:        []FlowStep{{Lookup: []string{"foo"}}},
		Assertions:  []Assertion{{Type: AssertEventCount, Kind: "added", Count: 1}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 1")
	assert.Equal(t, orc.ErrCodeDuplicateDefinition, orc.CodeOf(err))
}

func TestRun_InvalidConfig(t *testing.T) {
	scenario := &Scenario{
		Name:        "config",
		Description: "bad config",
		Config:      map[string]any{"workers": 0},
		Flow:        []FlowStep{{Lookup: []string{"foo"}}},
		Assertions:  []Assertion{{Type: AssertEventCount, Kind: "added"}},
	}

	_, err := Run(scenario)
	assert.ErrorContains(t, err, "failed to resolve config")
}

func TestBuildObject_Kinds(t *testing.T) {
	scenario := &Scenario{
		Name:        "objects",
		Description: "every object symbol kind",
		Setup: []UnitStep{{Key: "o", Object: []ObjectSymbol{
			{Name: "f"},
			{Name: "w", Bind: "weak"},
			{Name: "d", Kind: "data", Size: 24},
			{Name: "c", Kind: "common", Size: 64},
			{Name: "hidden", Bind: "local"},
			{Name: "ext", Kind: "undefined"},
		}}},
		Flow: []FlowStep{{Lookup: []string{"f", "w", "d", "c"}}},
		Assertions: []Assertion{
			{Type: AssertEventContains, Kind: "added", Key: "o", Symbols: []string{"c", "d", "f", "w"}},
			{Type: AssertFinalState, States: map[string]string{"hidden": "absent", "ext": "absent"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	_, err = buildObject(0, []ObjectSymbol{{Name: "x", Kind: "tls"}})
	assert.Error(t, err)
}
