package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lazyjit/internal/config"
)

// Scenario defines a conformance test scenario.
// Scenarios add units to a fresh session, drive lookups and removals, and
// assert on the resulting event trace and final symbol states.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides configuration fields, using the same keys as a
	// lazyjit.yaml file. Omitted fields take their defaults.
	Config map[string]any `yaml:"config,omitempty"`

	// Setup contains units added before the flow. Setup units must be
	// accepted; a rejected setup unit aborts the run.
	Setup []UnitStep `yaml:"setup,omitempty"`

	// Flow contains the steps under test, each with an optional expect.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: event_contains, event_order, event_count, final_state
	Assertions []Assertion `yaml:"assertions"`

	// dir is the scenario file's directory, for resolving ir_file.
	dir string
}

// UnitStep describes one unit to add.
type UnitStep struct {
	// Key is the module key. Empty keys are drawn as "unit-1", "unit-2", ...
	Key string `yaml:"key,omitempty"`

	// Library names the target library; empty means the main library.
	Library string `yaml:"library,omitempty"`

	// IR is LLVM assembly for an IR unit.
	IR string `yaml:"ir,omitempty"`

	// IRFile is a path to LLVM assembly, relative to the scenario file.
	IRFile string `yaml:"ir_file,omitempty"`

	// Object lists the symbols of a relocatable object unit.
	Object []ObjectSymbol `yaml:"object,omitempty"`
}

// ObjectSymbol is one symbol of a generated object.
type ObjectSymbol struct {
	Name string `yaml:"name"`
	// Kind is func, data, common or undefined. Default func.
	Kind string `yaml:"kind,omitempty"`
	// Bind is global, weak or local. Default global.
	Bind string `yaml:"bind,omitempty"`
	// Size is the byte size for data and common symbols. Default 8.
	Size uint64 `yaml:"size,omitempty"`
}

// FlowStep is one action: add a unit, look names up, or remove names.
type FlowStep struct {
	Add     *UnitStep `yaml:"add,omitempty"`
	Lookup  []string  `yaml:"lookup,omitempty"`
	Remove  []string  `yaml:"remove,omitempty"`
	Library string    `yaml:"library,omitempty"`

	// Expect specifies the expected outcome.
	// If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code (for example SYMBOLS_NOT_FOUND).
	// Empty means the step succeeds.
	Error string `yaml:"error,omitempty"`

	// Names are the names carried by the expected error, in sorted order.
	// For a successful lookup they are the names that must resolve.
	Names []string `yaml:"names,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "event_contains": an event of Kind exists, optionally for Key, whose
	//   symbols include Symbols
	// - "event_order": Key's events include Kinds as a subsequence
	// - "event_count": exactly Count events of Kind (optionally for Key)
	// - "final_state": symbols of Library end in the States given
	Type string `yaml:"type"`

	Kind    string   `yaml:"kind,omitempty"`
	Key     string   `yaml:"key,omitempty"`
	Symbols []string `yaml:"symbols,omitempty"`
	Kinds   []string `yaml:"kinds,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Library string   `yaml:"library,omitempty"`

	// States maps symbol name to lazy, materializing, resolved, emitted,
	// failed or absent.
	States map[string]string `yaml:"states,omitempty"`
}

// Assertion type constants.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	for i := range s.Setup {
		if err := s.checkIRFile(fmt.Sprintf("setup[%d]", i), &s.Setup[i]); err != nil {
			return nil, err
		}
	}
	for i := range s.Flow {
		if s.Flow[i].Add != nil {
			if err := s.checkIRFile(fmt.Sprintf("flow[%d].add", i), s.Flow[i].Add); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML. ir_file paths resolve against the
// working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so typos like "assertion:" fail loudly.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ResolveConfig returns the scenario's configuration.
func (s *Scenario) ResolveConfig() (config.Config, error) {
	if len(s.Config) == 0 {
		return config.Default(), nil
	}
	data, err := yaml.Marshal(s.Config)
	if err != nil {
		return config.Config{}, err
	}
	return config.Parse("scenario.yaml", data)
}

func (s *Scenario) checkIRFile(where string, u *UnitStep) error {
	if u.IRFile == "" {
		return nil
	}
	path := s.irPath(u.IRFile)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("invalid scenario: %s: ir_file not found: %s", where, path)
	}
	return nil
}

func (s *Scenario) irPath(p string) string {
	if filepath.IsAbs(p) || s.dir == "" {
		return p
	}
	return filepath.Join(s.dir, p)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i := range s.Setup {
		if err := validateUnit(fmt.Sprintf("setup[%d]", i), &s.Setup[i]); err != nil {
			return err
		}
	}

	for i, step := range s.Flow {
		actions := 0
		if step.Add != nil {
			actions++
			if err := validateUnit(fmt.Sprintf("flow[%d].add", i), step.Add); err != nil {
				return err
			}
		}
		if len(step.Lookup) > 0 {
			actions++
		}
		if len(step.Remove) > 0 {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("flow[%d]: exactly one of add, lookup or remove is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateUnit(where string, u *UnitStep) error {
	sources := 0
	for _, set := range []bool{u.IR != "", u.IRFile != "", len(u.Object) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("%s: exactly one of ir, ir_file or object is required", where)
	}
	for j, sym := range u.Object {
		if sym.Name == "" {
			return fmt.Errorf("%s.object[%d]: name is required", where, j)
		}
		switch sym.Kind {
		case "", "func", "data", "common", "undefined":
		default:
			return fmt.Errorf("%s.object[%d]: unknown kind %q", where, j, sym.Kind)
		}
		switch sym.Bind {
		case "", "global", "weak", "local":
		default:
			return fmt.Errorf("%s.object[%d]: unknown bind %q", where, j, sym.Bind)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_contains", index)
		}
	case AssertEventOrder:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for event_order", index)
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertFinalState:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
