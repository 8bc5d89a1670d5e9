package engine

import (
	"context"
	"debug/elf"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lazyjit/internal/compile"
	"github.com/roach88/lazyjit/internal/config"
	"github.com/roach88/lazyjit/internal/link"
	"github.com/roach88/lazyjit/internal/objfile"
	"github.com/roach88/lazyjit/internal/orc"
	"github.com/roach88/lazyjit/internal/store"
	"github.com/roach88/lazyjit/internal/testutil"
)

const twoFuncs = `
define i32 @foo() {
entry:
  ret i32 0
}

define i32 @bar() {
entry:
  ret i32 1
}
`

func newSyncEngine(t *testing.T, opts ...Option) (*Engine, *orc.MemorySink) {
	t.Helper()
	mem := &orc.MemorySink{}
	base := []Option{
		WithLogger(testutil.QuietLogger()),
		WithSynchronous(),
		WithEventSink(mem),
		WithKeyGenerator(orc.NewSequentialKeyGenerator("unit")),
	}
	e, err := New(context.Background(), config.Default(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, mem
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	var cfgErr *config.Error
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNew_StoreRequiresRunID(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "jit.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = New(context.Background(), config.Default(), WithStore(s, ""))
	assert.ErrorContains(t, err, "run ID")
}

func TestEngine_LazyModuleMaterializesOnLookup(t *testing.T) {
	e, mem := newSyncEngine(t)

	key, err := e.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)
	assert.Equal(t, orc.ModuleKey("unit-1"), key)
	assert.Equal(t, []orc.EventKind{orc.EventAdded}, mem.Kinds(key), "nothing compiled before a lookup")

	defs, err := e.Lookup(context.Background(), "", "foo")
	require.NoError(t, err)
	require.Contains(t, defs, "foo")
	assert.GreaterOrEqual(t, defs["foo"].Address, uint64(link.DefaultArenaBase))
	assert.True(t, defs["foo"].Flags.IsCallable())

	assert.Equal(t, []orc.EventKind{
		orc.EventAdded, orc.EventMaterializing, orc.EventResolved, orc.EventEmitted,
	}, mem.Kinds(key))

	// bar was emitted alongside foo; a second lookup does not materialize again.
	_, err = e.Lookup(context.Background(), "", "bar")
	require.NoError(t, err)
	assert.Len(t, mem.Kinds(key), 4)
	require.Len(t, e.Linker().Images(), 1)
}

func TestEngine_LinksDecomposedUnicodeName(t *testing.T) {
	e, _ := newSyncEngine(t)
	ctx := context.Background()

	_, err := e.AddModuleSource("", "", "cafe.ll", `
define i32 @"cafe\CC\81"() {
entry:
  ret i32 0
}
`)
	require.NoError(t, err)

	defs, err := e.Lookup(ctx, "", "cafe\u0301")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, defs["cafe\u0301"].Address, uint64(link.DefaultArenaBase))

	_, err = e.Lookup(ctx, "", "caf\u00e9")
	assert.Equal(t, orc.ErrCodeSymbolsNotFound, orc.CodeOf(err), "the composed spelling is another symbol")
}

func TestEngine_LookupErrors(t *testing.T) {
	e, _ := newSyncEngine(t)
	ctx := context.Background()

	_, err := e.Lookup(ctx, "", "absent")
	assert.Equal(t, orc.ErrCodeSymbolsNotFound, orc.CodeOf(err))

	_, err = e.Lookup(ctx, "", "llvm.memcpy")
	assert.Equal(t, orc.ErrCodeInvalidSymbolName, orc.CodeOf(err))

	_, err = e.AddModuleSource("", "", "bad.ll", "define @@@")
	assert.ErrorContains(t, err, "parse bad.ll")
}

func TestEngine_LibrariesCreatedOnDemand(t *testing.T) {
	e, _ := newSyncEngine(t)

	a, err := e.Library("extra")
	require.NoError(t, err)
	b, err := e.Library("extra")
	require.NoError(t, err)
	assert.Same(t, a, b)

	main, err := e.Library("")
	require.NoError(t, err)
	assert.Equal(t, "main", main.Name())
	assert.Equal(t, []string{"extra", "main"}, e.LibraryNames())

	_, err = e.AddModuleSource("extra", "k", "m.ll", twoFuncs)
	require.NoError(t, err)
	_, err = e.Lookup(context.Background(), "", "foo")
	assert.Equal(t, orc.ErrCodeSymbolsNotFound, orc.CodeOf(err), "libraries do not share symbols")

	syms := e.Symbols()
	assert.Len(t, syms["extra"], 2)
	assert.Empty(t, syms["main"])
}

func TestEngine_AddObjectAndRemove(t *testing.T) {
	e, mem := newSyncEngine(t)

	w := objfile.NewWriter(elf.EM_X86_64)
	w.AddFunc("entry", elf.STB_GLOBAL, []byte{0xc3})
	w.AddData("table", elf.STB_GLOBAL, make([]byte, 16))
	key, err := e.AddObject("", "", w.Bytes())
	require.NoError(t, err)

	require.NoError(t, e.Remove("", "table"))
	defs, err := e.Lookup(context.Background(), "", "entry")
	require.NoError(t, err)
	assert.NotZero(t, defs["entry"].Address)

	_, err = e.Lookup(context.Background(), "", "table")
	assert.Equal(t, orc.ErrCodeSymbolsNotFound, orc.CodeOf(err))
	assert.Equal(t, []orc.EventKind{
		orc.EventAdded, orc.EventDiscarded, orc.EventMaterializing, orc.EventResolved, orc.EventEmitted,
	}, mem.Kinds(key))
}

func TestEngine_AsyncRunAndClose(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 2
	e, err := New(context.Background(), cfg, WithLogger(testutil.QuietLogger()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	_, err = e.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defs, err := e.Lookup(ctx, "", "foo", "bar")
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	require.NoError(t, e.Close(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.Error(t, e.Run(context.Background()), "second Run is a programming error")
	assert.NoError(t, e.Close(context.Background()), "Close is idempotent")
}

func TestEngine_CloseWaitsForQueuedLinks(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "jit.db"))
	require.NoError(t, err)
	defer s.Close()

	e, err := New(context.Background(), config.Default(),
		WithLogger(testutil.QuietLogger()),
		WithKeyGenerator(orc.NewSequentialKeyGenerator("unit")),
		WithStore(s, "run-1"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.AddModuleSource("", "", "first.ll", twoFuncs)
	require.NoError(t, err)
	_, err = e.Lookup(ctx, "", "foo")
	require.NoError(t, err, "a completed lookup shows the workers are running")

	_, err = e.AddModuleSource("", "", "second.ll", `
define i32 @baz() {
entry:
  ret i32 2
}
`)
	require.NoError(t, err)
	gone, stop := context.WithCancel(context.Background())
	stop()
	// Materialization starts, then the lookup gives up waiting.
	_, _ = e.Lookup(gone, "", "baz")

	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, <-done)

	images, err := s.ReadImages(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, orc.ModuleKey("unit-2"), images[1].Key)
	assert.Contains(t, images[1].Symbols, "baz")
}

func TestEngine_CloseWithdrawsLazyUnits(t *testing.T) {
	e, mem := newSyncEngine(t)
	key, err := e.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, []orc.EventKind{orc.EventAdded, orc.EventWithdrawn}, mem.Kinds(key))
}

func TestEngine_PersistsRunToStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "jit.db"))
	require.NoError(t, err)
	defer s.Close()

	e, mem := newSyncEngine(t, WithStore(s, "run-1"))
	assert.Equal(t, "run-1", e.RunID())

	_, err = e.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)
	_, err = e.Lookup(context.Background(), "", "foo")
	require.NoError(t, err)
	require.NoError(t, e.Close(context.Background()))

	ctx := context.Background()
	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Contains(t, runs[0].Config, `"compiler":"stub"`)

	events, err := s.ReadEvents(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, mem.Events(), events)

	images, err := s.ReadImages(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Contains(t, images[0].Symbols, "foo")
}

func TestEngine_ResumedClockContinuesSequence(t *testing.T) {
	e, mem := newSyncEngine(t, WithClock(orc.NewClockAt(100)))
	_, err := e.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, int64(101), events[0].Seq)
}

func TestEngine_ReusedRunIDAppends(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	first, _ := newSyncEngine(t, WithStore(s, "run-1"))
	_, err = first.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	before, err := s.LastSeq(ctx, "run-1")
	require.NoError(t, err)
	require.Positive(t, before)

	second, mem := newSyncEngine(t, WithStore(s, "run-1"))
	_, err = second.AddModuleSource("", "", "two.ll", twoFuncs)
	require.NoError(t, err)

	events := mem.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, before+1, events[0].Seq)

	stored, err := s.ReadEvents(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, stored, int(before)+len(events))
	require.NoError(t, second.Close(ctx))
}

func TestCompilerFor(t *testing.T) {
	cfg := config.Default()
	stub, ok := NewCompiler(cfg).(compile.StubCompiler)
	require.True(t, ok)
	assert.Equal(t, elf.EM_X86_64, stub.Machine)

	cfg.Target = "aarch64"
	cfg.Compiler = "llc"
	cfg.LLCPath = "/usr/bin/llc-18"
	llc, ok := NewCompiler(cfg).(compile.LLCCompiler)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/llc-18", llc.Path)
	assert.Equal(t, "aarch64-unknown-linux-gnu", llc.Triple)
}
