package harness

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/roach88/lazyjit/internal/engine"
	"github.com/roach88/lazyjit/internal/objfile"
	"github.com/roach88/lazyjit/internal/orc"
	"github.com/roach88/lazyjit/internal/store"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	scenario *Scenario
	engine   *engine.Engine
	store    *store.Store
	trace    *orc.MemorySink
	machine  elf.Machine
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Add setup units
// 3. Execute flow steps with expect validation
// 4. Close the engine and check the stored log against the live trace
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context for lookups.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenario.ResolveConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trace := &orc.MemorySink{}
	eng, err := engine.New(ctx, cfg,
		engine.WithLogger(logger),
		engine.WithSynchronous(),
		engine.WithKeyGenerator(orc.NewSequentialKeyGenerator("unit")),
		engine.WithEventSink(trace),
		engine.WithStore(st, scenario.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	h := &Harness{
		scenario: scenario,
		engine:   eng,
		store:    st,
		trace:    trace,
		machine:  cfg.ObjectMachine(),
		logger:   logger,
	}

	result := NewResult()
	for i := range scenario.Setup {
		if err := h.addUnit(&scenario.Setup[i]); err != nil {
			_ = eng.Close(ctx)
			return nil, fmt.Errorf("failed to execute setup step %d: %w", i, err)
		}
	}

	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	// Snapshot before Close, which withdraws the units still lazy.
	h.snapshotState(result)
	if err := eng.Close(ctx); err != nil {
		return nil, fmt.Errorf("failed to close engine: %w", err)
	}
	result.Trace = trace.Events()

	stored, err := st.ReadEvents(ctx, scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored events: %w", err)
	}
	if !reflect.DeepEqual(stored, result.Trace) {
		result.AddError(fmt.Sprintf("stored event log differs from live trace: %d stored, %d live",
			len(stored), len(result.Trace)))
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) {
	var (
		err      error
		resolved map[string]orc.SymbolDef
	)
	switch {
	case step.Add != nil:
		err = h.addUnit(step.Add)
	case len(step.Lookup) > 0:
		resolved, err = h.engine.Lookup(ctx, step.Library, step.Lookup...)
	case len(step.Remove) > 0:
		err = h.engine.Remove(step.Library, step.Remove...)
	}

	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{}
	}
	if msg := checkExpect(expect, err, resolved); msg != "" {
		result.AddError(fmt.Sprintf("flow[%d]: %s", i, msg))
	}
}

func checkExpect(expect *ExpectClause, err error, resolved map[string]orc.SymbolDef) string {
	if expect.Error == "" {
		if err != nil {
			return fmt.Sprintf("expected success, got %v", err)
		}
		for _, name := range expect.Names {
			if _, ok := resolved[name]; !ok {
				return fmt.Sprintf("expected %q to resolve", name)
			}
		}
		return ""
	}

	if err == nil {
		return fmt.Sprintf("expected error %s, got success", expect.Error)
	}
	if code := string(orc.CodeOf(err)); code != expect.Error {
		return fmt.Sprintf("expected error %s, got %q (%v)", expect.Error, code, err)
	}
	if len(expect.Names) > 0 {
		if got := errorNames(err); !reflect.DeepEqual(got, expect.Names) {
			return fmt.Sprintf("expected error names %v, got %v", expect.Names, got)
		}
	}
	return ""
}

// errorNames returns the names carried by a library error.
func errorNames(err error) []string {
	var (
		dup      *orc.DuplicateDefinitionError
		notFound *orc.SymbolsNotFoundError
		failed   *orc.FailedToMaterializeError
	)
	switch {
	case errors.As(err, &dup):
		return dup.Names
	case errors.As(err, &notFound):
		return notFound.Names
	case errors.As(err, &failed):
		return failed.Names
	}
	return nil
}

func (h *Harness) addUnit(u *UnitStep) error {
	key := orc.ModuleKey(u.Key)
	switch {
	case len(u.Object) > 0:
		obj, err := buildObject(h.machine, u.Object)
		if err != nil {
			return err
		}
		_, err = h.engine.AddObject(u.Library, key, obj)
		return err
	case u.IRFile != "":
		path := h.scenario.irPath(u.IRFile)
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		_, err = h.engine.AddModuleSource(u.Library, key, u.IRFile, string(src))
		return err
	default:
		name := u.Key
		if name == "" {
			name = "inline"
		}
		_, err := h.engine.AddModuleSource(u.Library, key, name+".ll", u.IR)
		return err
	}
}

// buildObject writes a relocatable object for syms.
func buildObject(machine elf.Machine, syms []ObjectSymbol) ([]byte, error) {
	w := objfile.NewWriter(machine)
	for _, s := range syms {
		bind := elf.STB_GLOBAL
		switch s.Bind {
		case "weak":
			bind = elf.STB_WEAK
		case "local":
			bind = elf.STB_LOCAL
		}
		size := s.Size
		if size == 0 {
			size = 8
		}
		switch s.Kind {
		case "", "func":
			w.AddFunc(s.Name, bind, []byte{0xc3})
		case "data":
			w.AddData(s.Name, bind, make([]byte, size))
		case "common":
			w.Add(objfile.WriterSymbol{
				Name: s.Name, Binding: bind, Type: elf.STT_OBJECT,
				Section: objfile.SectionCommon, Size: size, Value: 8,
			})
		case "undefined":
			w.AddUndefined(s.Name)
		default:
			return nil, fmt.Errorf("unknown object symbol kind %q", s.Kind)
		}
	}
	return w.Bytes(), nil
}

func (h *Harness) snapshotState(result *Result) {
	for lib, infos := range h.engine.Symbols() {
		syms := make(map[string]SymbolSnapshot, len(infos))
		for _, info := range infos {
			snap := SymbolSnapshot{State: info.State.String(), Key: string(info.Key)}
			if info.State == orc.SymbolEmitted {
				snap.Address = info.Address
			}
			syms[info.Name.String()] = snap
		}
		result.State[lib] = syms
	}
}
