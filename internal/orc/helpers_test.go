package orc

import (
	"sync"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/roach88/lazyjit/internal/testutil"
)

// newTestSession creates a session with deterministic keys, silent logs and
// an in-memory event sink.
func newTestSession(t *testing.T, opts ...SessionOption) (*Session, *MemorySink) {
	t.Helper()
	sink := &MemorySink{}
	base := []SessionOption{
		WithLogger(testutil.QuietLogger()),
		WithKeyGenerator(NewSequentialKeyGenerator("test")),
		WithEventSink(sink),
	}
	return NewSession(append(base, opts...)...), sink
}

// parseModule parses LLVM assembly.
func parseModule(t *testing.T, src string) *ir.Module {
	t.Helper()
	return testutil.ParseModule(t, src)
}

// parseModuleErr is parseModule for goroutines that cannot call t.FailNow.
func parseModuleErr(src string) (*ir.Module, error) {
	return asm.ParseString("test.ll", src)
}

// emitCall records one Emit invocation.
type emitCall struct {
	key     ModuleKey
	symbols []string
	module  *ir.Module
	obj     []byte
}

// emitRecorder is shared by the test emitters.
type emitRecorder struct {
	mu    sync.Mutex
	calls []emitCall
	// hold keeps responsibilities instead of settling them.
	hold bool
	held []*Responsibility
	// fail fails every responsibility instead of resolving it.
	fail bool
}

func (e *emitRecorder) handle(r *Responsibility, call emitCall) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	hold, fail := e.hold, e.fail
	if hold {
		e.held = append(e.held, r)
	}
	e.mu.Unlock()

	switch {
	case hold:
	case fail:
		r.Fail()
	default:
		if err := settleAll(r, 0x1000); err != nil {
			panic(err)
		}
	}
}

func (e *emitRecorder) Calls() []emitCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]emitCall, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *emitRecorder) Held() []*Responsibility {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Responsibility(nil), e.held...)
}

// irEmitter settles synchronously in the caller's goroutine.
type irEmitter struct{ emitRecorder }

func (e *irEmitter) Emit(r *Responsibility, key ModuleKey, m *ir.Module) {
	e.handle(r, emitCall{key: key, symbols: r.Symbols().Strings(), module: m})
}

type objectEmitter struct{ emitRecorder }

func (e *objectEmitter) Emit(r *Responsibility, key ModuleKey, obj []byte) {
	e.handle(r, emitCall{key: key, symbols: r.Symbols().Strings(), obj: obj})
}

// settleAll resolves every symbol at base + 16*i and emits.
func settleAll(r *Responsibility, base uint64) error {
	defs := make(SymbolMap)
	for i, name := range r.Symbols().Names() {
		defs[name] = SymbolDef{Address: base + uint64(i)*16}
	}
	if err := r.Resolve(defs); err != nil {
		return err
	}
	return r.Emit()
}

var (
	buildObject = testutil.Object
	textSym     = testutil.Func
	dataSym     = testutil.Data
)

// flagsByName renders a flags map keyed by string for assertions.
func flagsByName(m SymbolFlagsMap) map[string]SymbolFlags {
	out := make(map[string]SymbolFlags, len(m))
	for name, f := range m {
		out[name.String()] = f
	}
	return out
}
