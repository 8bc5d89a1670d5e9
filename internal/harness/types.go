package harness

import (
	"github.com/roach88/lazyjit/internal/orc"
)

// SymbolSnapshot is one library symbol at the end of a scenario.
type SymbolSnapshot struct {
	State   string `json:"state"`
	Address uint64 `json:"address,omitempty"`
	Key     string `json:"key,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions hold.
	Pass bool `json:"pass"`

	// Trace contains every session event in seq order.
	Trace []orc.Event `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State maps library name to symbol name to the symbol's final state.
	State map[string]map[string]SymbolSnapshot `json:"state,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []orc.Event{},
		Errors: []string{},
		State:  make(map[string]map[string]SymbolSnapshot),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
