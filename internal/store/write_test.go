package store

import (
	"context"
	"debug/elf"
	"io"
	"log/slog"
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lazyjit/internal/compile"
	"github.com/roach88/lazyjit/internal/link"
	"github.com/roach88/lazyjit/internal/orc"
)

func TestWriteRun_Idempotent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.WriteRun(ctx, "run-1", map[string]any{"workers": 2, "main": "main"}))
	require.NoError(t, s.WriteRun(ctx, "run-1", map[string]any{"ignored": true}))
	require.NoError(t, s.WriteRun(ctx, "run-0", nil))

	runs, err := s.ReadRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Run{
		{ID: "run-0", Config: "{}"},
		{ID: "run-1", Config: `{"main":"main","workers":2}`},
	}, runs)
}

func TestWriteEvent_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "r", nil))

	events := []orc.Event{
		{Seq: 2, Kind: orc.EventMaterializing, Library: "main", Key: "k1", Symbols: []string{"foo"}},
		{Seq: 1, Kind: orc.EventAdded, Library: "main", Key: "k1", Symbols: []string{"bar", "foo"}},
		{Seq: 3, Kind: orc.EventWithdrawn, Library: "main", Key: "k2", Symbols: []string{}},
	}
	for _, ev := range events {
		require.NoError(t, s.WriteEvent(ctx, "r", ev))
	}

	got, err := s.ReadEvents(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []orc.Event{events[1], events[0], events[2]}, got, "ordered by seq")

	unit, err := s.ReadUnitEvents(ctx, "r", "k1")
	require.NoError(t, err)
	assert.Len(t, unit, 2)

	last, err := s.LastSeq(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestWriteEvent_DuplicateSeqIgnored(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "r", nil))

	ev := orc.Event{Seq: 1, Kind: orc.EventAdded, Library: "main", Key: "k", Symbols: []string{"a"}}
	require.NoError(t, s.WriteEvent(ctx, "r", ev))
	ev.Kind = orc.EventFailed
	require.NoError(t, s.WriteEvent(ctx, "r", ev))

	got, err := s.ReadEvents(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, orc.EventAdded, got[0].Kind)
}

func TestWriteEvent_UnknownRunRejected(t *testing.T) {
	s := openTemp(t)
	err := s.WriteEvent(context.Background(), "nope", orc.Event{Seq: 1, Kind: orc.EventAdded})
	assert.Error(t, err, "foreign key enforces run existence")
}

func TestReadEvents_Empty(t *testing.T) {
	s := openTemp(t)
	got, err := s.ReadEvents(context.Background(), "none")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	last, err := s.LastSeq(context.Background(), "none")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestWriteImage_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "r", nil))

	img := link.Image{
		Key:      "obj",
		Library:  "main",
		Sections: map[string]uint64{".text": 0x10000000, ".data": 0x10000010},
		Symbols:  map[string]uint64{"entry": 0x10000000, "big": 1 << 63},
	}
	require.NoError(t, s.WriteImage(ctx, "r", img))
	require.NoError(t, s.WriteImage(ctx, "r", link.Image{Key: "empty", Library: "main"}))

	got, err := s.ReadImages(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, orc.ModuleKey("empty"), got[0].Key)
	assert.Empty(t, got[0].Symbols)
	assert.Equal(t, img, got[1])
}

func TestSink_PersistsSessionEvents(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.WriteRun(ctx, "session", nil))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := NewSink(s, "session", logger)
	mem := &orc.MemorySink{}
	sess := orc.NewSession(
		orc.WithLogger(logger),
		orc.WithEventSink(sink),
		orc.WithEventSink(mem),
	)

	linker := link.New(link.WithSynchronous(), link.WithLogger(logger))
	objLayer := orc.NewObjectLayer(sess, linker)
	irLayer := orc.NewIRLayer(sess, compile.NewEmitter(compile.StubCompiler{Machine: elf.EM_X86_64}, objLayer, compile.WithLogger(logger)))

	m, err := asm.ParseString("t.ll", "define i32 @foo() {\nentry:\n  ret i32 0\n}\n")
	require.NoError(t, err)
	require.NoError(t, irLayer.AddToMain("unit", m))
	_, err = sess.MainLibrary().Lookup(ctx, sess.MustIntern("foo"))
	require.NoError(t, err)
	for _, img := range linker.Images() {
		require.NoError(t, s.WriteImage(ctx, "session", img))
	}

	require.NoError(t, sink.Err())
	stored, err := s.ReadEvents(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, mem.Events(), stored)

	images, err := s.ReadImages(ctx, "session")
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Contains(t, images[0].Symbols, "foo")
}

func TestSink_RecordsFirstError(t *testing.T) {
	s := openTemp(t)
	sink := NewSink(s, "missing-run", slog.New(slog.NewTextHandler(io.Discard, nil)))

	sink.Record(orc.Event{Seq: 1, Kind: orc.EventAdded, Library: "main", Key: "k"})
	first := sink.Err()
	require.Error(t, first)

	sink.Record(orc.Event{Seq: 2, Kind: orc.EventAdded, Library: "main", Key: "k"})
	assert.Equal(t, first, sink.Err())
}
