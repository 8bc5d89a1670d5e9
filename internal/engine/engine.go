package engine

import (
	"context"
	"debug/elf"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/roach88/lazyjit/internal/compile"
	"github.com/roach88/lazyjit/internal/config"
	"github.com/roach88/lazyjit/internal/link"
	"github.com/roach88/lazyjit/internal/orc"
	"github.com/roach88/lazyjit/internal/store"
)

// Engine wires a session to its compile and link backends.
//
// Thread-safety model:
//   - Add*, Lookup, Library: safe from any goroutine
//   - Run: at most one call
//   - Close: once, after Run has been started or not at all; it waits
//     for a started Run to return
type Engine struct {
	cfg      config.Config
	session  *orc.Session
	irLayer  *orc.IRLayer
	objLayer *orc.ObjectLayer
	linker   *link.Linker
	logger   *slog.Logger

	store *store.Store
	sink  *store.Sink
	runID string

	sync    bool
	mu      sync.Mutex
	libs    sync.Mutex
	running bool
	closed  bool
	// runDone is closed when Run returns.
	runDone chan struct{}
}

type options struct {
	logger   *slog.Logger
	sinks    []orc.EventSink
	keys     orc.KeyGenerator
	clock    *orc.Clock
	compiler compile.Compiler
	store    *store.Store
	runID    string
	sync     bool
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEventSink adds a session event sink.
func WithEventSink(s orc.EventSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithKeyGenerator replaces the UUIDv7 key generator.
func WithKeyGenerator(g orc.KeyGenerator) Option {
	return func(o *options) { o.keys = g }
}

// WithClock sets the session clock, for resuming a stored run.
func WithClock(c *orc.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithCompiler overrides the compiler chosen by the configuration.
func WithCompiler(c compile.Compiler) Option {
	return func(o *options) { o.compiler = c }
}

// WithStore persists the run's events and images under runID.
func WithStore(s *store.Store, runID string) Option {
	return func(o *options) {
		o.store = s
		o.runID = runID
	}
}

// WithSynchronous links objects on the materializing goroutine.
func WithSynchronous() Option {
	return func(o *options) { o.sync = true }
}

// New validates cfg and builds the layer stack. With a store attached the
// run row is written before any event can be recorded.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{cfg: cfg, logger: o.logger, store: o.store, runID: o.runID, sync: o.sync, runDone: make(chan struct{})}

	sessionOpts := []orc.SessionOption{
		orc.WithLogger(o.logger),
		orc.WithMainLibrary(cfg.MainLibrary),
		orc.WithGlobalPrefix(cfg.GlobalPrefix),
		orc.WithReservedPrefixes(cfg.ReservedPrefixes),
		orc.WithTarget(cfg.Machine()),
	}
	if o.keys != nil {
		sessionOpts = append(sessionOpts, orc.WithKeyGenerator(o.keys))
	}
	if o.store != nil {
		if o.runID == "" {
			return nil, errors.New("engine: store attached without a run ID")
		}
		if err := o.store.WriteRun(ctx, o.runID, cfg.Map()); err != nil {
			return nil, fmt.Errorf("record run: %w", err)
		}
		// A reused run ID appends after the events already stored.
		if o.clock == nil {
			last, err := o.store.LastSeq(ctx, o.runID)
			if err != nil {
				return nil, fmt.Errorf("resume run: %w", err)
			}
			o.clock = orc.NewClockAt(last)
		}
		e.sink = store.NewSink(o.store, o.runID, o.logger)
		sessionOpts = append(sessionOpts, orc.WithEventSink(e.sink))
	}
	if o.clock != nil {
		sessionOpts = append(sessionOpts, orc.WithClock(o.clock))
	}
	for _, s := range o.sinks {
		sessionOpts = append(sessionOpts, orc.WithEventSink(s))
	}
	e.session = orc.NewSession(sessionOpts...)

	linkOpts := []link.Option{link.WithLogger(o.logger), link.WithWorkers(cfg.Workers)}
	if o.sync {
		linkOpts = append(linkOpts, link.WithSynchronous())
	}
	e.linker = link.New(linkOpts...)
	e.objLayer = orc.NewObjectLayer(e.session, e.linker)

	compiler := o.compiler
	if compiler == nil {
		compiler = NewCompiler(cfg)
	}
	e.irLayer = orc.NewIRLayer(e.session, compile.NewEmitter(compiler, e.objLayer, compile.WithLogger(o.logger)))
	return e, nil
}

// NewCompiler returns the compiler cfg selects.
func NewCompiler(cfg config.Config) compile.Compiler {
	if cfg.Compiler == "llc" {
		return compile.LLCCompiler{Path: cfg.LLCPath, Triple: triples[cfg.ObjectMachine()]}
	}
	return compile.StubCompiler{Machine: cfg.ObjectMachine(), GlobalPrefix: cfg.GlobalPrefix}
}

var triples = map[elf.Machine]string{
	elf.EM_X86_64:  "x86_64-unknown-linux-gnu",
	elf.EM_AARCH64: "aarch64-unknown-linux-gnu",
	elf.EM_RISCV:   "riscv64-unknown-linux-gnu",
}

// Session returns the engine's session.
func (e *Engine) Session() *orc.Session { return e.session }

// Linker returns the engine's linker.
func (e *Engine) Linker() *link.Linker { return e.linker }

// Config returns the configuration the engine was built from.
func (e *Engine) Config() config.Config { return e.cfg }

// RunID returns the store run ID, or "" without a store.
func (e *Engine) RunID() string { return e.runID }

// Library returns the named library, creating it on first use. An empty
// name means the main library.
func (e *Engine) Library(name string) (*orc.Library, error) {
	if name == "" {
		return e.session.MainLibrary(), nil
	}
	e.libs.Lock()
	defer e.libs.Unlock()
	if lib, ok := e.session.Library(name); ok {
		return lib, nil
	}
	return e.session.CreateLibrary(name)
}

// AddModule adds m to library lib under key. An empty key draws a fresh
// one from the session.
func (e *Engine) AddModule(lib string, key orc.ModuleKey, m *ir.Module) (orc.ModuleKey, error) {
	l, err := e.Library(lib)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = e.session.NewKey()
	}
	if err := e.irLayer.Add(l, key, m); err != nil {
		return key, err
	}
	return key, nil
}

// AddModuleSource parses src as LLVM assembly and adds the result.
func (e *Engine) AddModuleSource(lib string, key orc.ModuleKey, name, src string) (orc.ModuleKey, error) {
	m, err := asm.ParseString(name, src)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	return e.AddModule(lib, key, m)
}

// AddObject adds a relocatable object to library lib under key.
func (e *Engine) AddObject(lib string, key orc.ModuleKey, obj []byte) (orc.ModuleKey, error) {
	l, err := e.Library(lib)
	if err != nil {
		return "", err
	}
	if key == "" {
		key = e.session.NewKey()
	}
	if err := e.objLayer.Add(l, key, obj); err != nil {
		return key, err
	}
	return key, nil
}

// Lookup interns names and looks them up in library lib. The result is
// keyed by the interned spelling.
func (e *Engine) Lookup(ctx context.Context, lib string, names ...string) (map[string]orc.SymbolDef, error) {
	l, err := e.Library(lib)
	if err != nil {
		return nil, err
	}
	syms := make([]orc.SymbolName, 0, len(names))
	for _, n := range names {
		s, err := e.session.Intern(n)
		if err != nil {
			return nil, err
		}
		syms = append(syms, s)
	}
	found, err := l.Lookup(ctx, syms...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]orc.SymbolDef, len(found))
	for name, def := range found {
		out[name.String()] = def
	}
	return out, nil
}

// Remove interns names and removes them from library lib.
func (e *Engine) Remove(lib string, names ...string) error {
	l, err := e.Library(lib)
	if err != nil {
		return err
	}
	syms := make([]orc.SymbolName, 0, len(names))
	for _, n := range names {
		s, err := e.session.Intern(n)
		if err != nil {
			return err
		}
		syms = append(syms, s)
	}
	return l.Remove(syms...)
}

// Run runs the linker workers until ctx is cancelled or Close is called.
// It returns at once for a synchronous engine.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.AssertionFailedf("engine: Run called twice")
	}
	e.running = true
	e.mu.Unlock()
	defer close(e.runDone)
	if e.sync {
		return nil
	}

	err := e.linker.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close stops the linker, waits for a started Run to finish the queued
// objects, withdraws every lazy unit and, with a store attached, writes the
// linked images. It returns the first error the store sink saw.
//
// If ctx ends before Run returns, Close still withdraws lazy units but
// records nothing and returns the context error.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	running := e.running
	e.mu.Unlock()

	e.linker.Stop()
	if running {
		select {
		case <-e.runDone:
		case <-ctx.Done():
			e.session.Close()
			return fmt.Errorf("wait for linker: %w", ctx.Err())
		}
	}
	e.session.Close()

	if e.store == nil {
		return nil
	}
	for _, img := range e.linker.Images() {
		if err := e.store.WriteImage(ctx, e.runID, img); err != nil {
			return fmt.Errorf("record image %s: %w", img.Key, err)
		}
	}
	return e.sink.Err()
}

// Symbols returns every library's symbols, keyed by library name.
func (e *Engine) Symbols() map[string][]orc.SymbolInfo {
	out := make(map[string][]orc.SymbolInfo)
	for _, l := range e.session.Libraries() {
		out[l.Name()] = l.Symbols()
	}
	return out
}

// LibraryNames returns the session's library names in sorted order.
func (e *Engine) LibraryNames() []string {
	libs := e.session.Libraries()
	names := make([]string, len(libs))
	for i, l := range libs {
		names[i] = l.Name()
	}
	return names
}
