// Package link places relocatable objects at addresses and settles the
// responsibilities that came with them.
//
// Linker is an orc.ObjectEmitter. Emit queues the object; a pool of workers
// started by Run parses it, allocates its sections from an Arena, resolves
// every promised symbol to section base + offset, and emits. Names the
// responsibility still promises but the object does not define are failed.
//
// Relocations are not applied and nothing is mapped executable: addresses
// are bookkeeping for lookups.
package link

import (
	"context"
	"debug/elf"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/lazyjit/internal/objfile"
	"github.com/roach88/lazyjit/internal/orc"
)

// Image describes one linked object.
type Image struct {
	Key     orc.ModuleKey
	Library string
	// Sections maps allocated section names to their base address.
	Sections map[string]uint64
	// Symbols maps each emitted name to its address.
	Symbols map[string]uint64
}

// Option configures a Linker.
type Option func(*Linker)

// WithWorkers sets the number of goroutines Run starts. Default 1.
func WithWorkers(n int) Option {
	return func(l *Linker) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithArena sets the address arena. Default NewArena(DefaultArenaBase, 0).
func WithArena(a *Arena) Option {
	return func(l *Linker) { l.arena = a }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) { l.logger = logger }
}

// WithSynchronous makes Emit link in the calling goroutine. Run is then
// unnecessary.
func WithSynchronous() Option {
	return func(l *Linker) { l.sync = true }
}

// Linker links objects handed over by an orc.ObjectLayer.
//
// Thread-safety: Emit may be called from any goroutine.
type Linker struct {
	workers int
	arena   *Arena
	logger  *slog.Logger
	sync    bool
	queue   *jobQueue

	mu     sync.Mutex
	images []Image
}

// New creates a linker.
func New(opts ...Option) *Linker {
	l := &Linker{
		workers: 1,
		arena:   NewArena(DefaultArenaBase, 0),
		logger:  slog.Default(),
		queue:   newJobQueue(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Emit queues obj for linking. If the linker has been stopped, every
// symbol in r is failed.
func (l *Linker) Emit(r *orc.Responsibility, key orc.ModuleKey, obj []byte) {
	j := job{r: r, key: key, obj: obj}
	if l.sync {
		l.link(j)
		return
	}
	if !l.queue.Enqueue(j) {
		l.logger.Warn("linker stopped, failing object", "key", key)
		r.Fail()
	}
}

// Run processes queued objects until ctx is cancelled or Stop is called.
// Jobs still queued when ctx is cancelled are failed, so no lookup waits
// on them forever. After Stop, queued jobs are linked before Run returns.
func (l *Linker) Run(ctx context.Context) error {
	l.logger.Info("linker starting", "workers", l.workers)

	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.work(ctx)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		l.queue.Close()
		for _, j := range l.queue.Drain() {
			j.r.Fail()
		}
		l.logger.Info("linker stopping: context cancelled")
		return err
	}
	l.logger.Info("linker stopping: queue closed")
	return nil
}

func (l *Linker) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if j, ok := l.queue.TryDequeue(); ok {
			l.link(j)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-l.queue.Wait():
			// The signal channel is closed by Stop, so this fires at once.
			if l.queue.Closed() && l.queue.Len() == 0 {
				return
			}
		}
	}
}

// Stop refuses further objects and lets Run return once the queue drains.
func (l *Linker) Stop() {
	l.queue.Close()
}

// Images returns every linked object in completion order.
func (l *Linker) Images() []Image {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Image(nil), l.images...)
}

// Arena returns the linker's address arena.
func (l *Linker) Arena() *Arena { return l.arena }

// link settles j.r. Every exit path leaves r settled.
func (l *Linker) link(j job) {
	r := j.r
	logger := l.logger.With("key", j.key, "library", r.Library().Name())

	f, err := objfile.Parse(j.obj)
	if err != nil {
		logger.Warn("object parse failed", "error", err)
		r.Fail()
		return
	}

	img := Image{
		Key:      j.key,
		Library:  r.Library().Name(),
		Sections: make(map[string]uint64),
		Symbols:  make(map[string]uint64),
	}
	bases := make(map[elf.SectionIndex]uint64)
	for i, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Size == 0 {
			continue
		}
		addr, err := l.arena.Allocate(sec.Size, sec.Addralign)
		if err != nil {
			logger.Warn("section allocation failed", "section", sec.Name, "error", err)
			r.Fail()
			return
		}
		bases[elf.SectionIndex(i)] = addr
		img.Sections[sec.Name] = addr
	}

	external := make(map[string]objfile.Symbol)
	for _, s := range f.Symbols {
		if f.IsExternal(s) {
			external[s.Name] = s
		}
	}

	defs := make(orc.SymbolMap)
	var missing []orc.SymbolName
	for _, name := range r.Symbols().Names() {
		addr, err := l.address(external, bases, name.String())
		if err != nil {
			logger.Debug("symbol not linked", "symbol", name.String(), "error", err)
			missing = append(missing, name)
			continue
		}
		defs[name] = orc.SymbolDef{Address: addr}
		img.Symbols[name.String()] = addr
	}

	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, n := range missing {
			names[i] = n.String()
		}
		logger.Warn("object does not define promised symbols", "symbols", names)
		if err := r.FailSymbols(missing...); err != nil {
			logger.Error("fail symbols", "error", err)
			r.Fail()
			return
		}
	}
	if len(defs) > 0 {
		if err := r.Resolve(defs); err != nil {
			logger.Error("resolve", "error", err)
			r.Fail()
			return
		}
	}
	if err := r.Emit(); err != nil {
		logger.Error("emit", "error", err)
		r.Fail()
		return
	}

	l.mu.Lock()
	l.images = append(l.images, img)
	l.mu.Unlock()
	logger.Debug("object linked", "symbols", len(defs), "sections", sortedKeys(img.Sections))
}

// address computes where name lives once its section is placed.
func (l *Linker) address(external map[string]objfile.Symbol, bases map[elf.SectionIndex]uint64, name string) (uint64, error) {
	s, ok := external[name]
	if !ok {
		return 0, fmt.Errorf("no external definition of %q", name)
	}
	switch s.Section {
	case elf.SHN_ABS:
		return s.Value, nil
	case elf.SHN_COMMON:
		// For common symbols Value holds the alignment.
		return l.arena.Allocate(s.Size, s.Value)
	}
	base, ok := bases[s.Section]
	if !ok {
		return 0, fmt.Errorf("section %d of %q was not allocated", s.Section, name)
	}
	return base + s.Value, nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
