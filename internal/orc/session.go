package orc

import (
	"debug/elf"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultMainLibrary is the name of the library created with every session.
const DefaultMainLibrary = "main"

// Session holds the state shared by every layer of a JIT: the symbol pool,
// the libraries, and the main-library selection.
//
// Layers borrow a Session and never own it; it must outlive them.
//
// Thread-safety: all methods are safe for concurrent use.
type Session struct {
	pool         *SymbolPool
	logger       *slog.Logger
	clock        *Clock
	keys         KeyGenerator
	sinks        []EventSink
	target       elf.Machine
	globalPrefix string
	mainName     string
	reserved     []string

	mu   sync.Mutex
	libs map[string]*Library
	main *Library
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger. Default: slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithKeyGenerator sets the module key source. Default: UUIDv7KeyGenerator.
func WithKeyGenerator(g KeyGenerator) SessionOption {
	return func(s *Session) { s.keys = g }
}

// WithEventSink adds a sink that receives every session event.
func WithEventSink(sink EventSink) SessionOption {
	return func(s *Session) { s.sinks = append(s.sinks, sink) }
}

// WithClock sets the event clock. Used to resume sequence numbers.
func WithClock(c *Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithTarget restricts object loading to one ELF machine.
// elf.EM_NONE (the default) accepts any machine.
func WithTarget(m elf.Machine) SessionOption {
	return func(s *Session) { s.target = m }
}

// WithGlobalPrefix sets the mangling prefix prepended to IR global names
// (for example "_" on Mach-O targets).
func WithGlobalPrefix(prefix string) SessionOption {
	return func(s *Session) { s.globalPrefix = prefix }
}

// WithMainLibrary names the main library. Default: DefaultMainLibrary.
func WithMainLibrary(name string) SessionOption {
	return func(s *Session) { s.mainName = name }
}

// WithReservedPrefixes replaces the reserved symbol prefixes.
func WithReservedPrefixes(prefixes []string) SessionOption {
	return func(s *Session) { s.reserved = prefixes }
}

// NewSession creates a session and its main library.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		logger:   slog.Default(),
		clock:    NewClock(),
		keys:     UUIDv7KeyGenerator{},
		mainName: DefaultMainLibrary,
		libs:     make(map[string]*Library),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewSymbolPool(s.reserved)
	s.main = newLibrary(s, s.mainName)
	s.libs[s.mainName] = s.main
	return s
}

// Intern returns the token for name.
func (s *Session) Intern(name string) (SymbolName, error) {
	return s.pool.Intern(name)
}

// MustIntern is like Intern but panics on error.
// Use only in tests or when inputs are known to be valid.
func (s *Session) MustIntern(name string) SymbolName {
	sym, err := s.pool.Intern(name)
	if err != nil {
		panic(err)
	}
	return sym
}

// Mangle applies the session's global prefix to an IR-level name.
func (s *Session) Mangle(name string) string {
	return s.globalPrefix + name
}

// GlobalPrefix returns the mangling prefix.
func (s *Session) GlobalPrefix() string { return s.globalPrefix }

// MainLibrary returns the session's designated main library.
func (s *Session) MainLibrary() *Library {
	return s.main
}

// CreateLibrary creates a new, empty library. Names are unique per session.
func (s *Session) CreateLibrary(name string) (*Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.libs[name]; exists {
		return nil, fmt.Errorf("library %q already exists", name)
	}
	lib := newLibrary(s, name)
	s.libs[name] = lib
	return lib, nil
}

// Library returns the named library.
func (s *Session) Library(name string) (*Library, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lib, ok := s.libs[name]
	return lib, ok
}

// Libraries returns all libraries sorted by name.
func (s *Session) Libraries() []*Library {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Library, 0, len(s.libs))
	for _, lib := range s.libs {
		out = append(out, lib)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// NewKey returns a fresh module key.
func (s *Session) NewKey() ModuleKey {
	return s.keys.NewKey()
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Target returns the ELF machine objects must match, or EM_NONE.
func (s *Session) Target() elf.Machine { return s.target }

// Close withdraws every unit that has not started materializing, in every
// library. Materializations already in flight are left to their backends.
func (s *Session) Close() {
	for _, lib := range s.Libraries() {
		lib.withdrawAll()
	}
}

// record stamps ev and fans it out to the sinks.
func (s *Session) record(kind EventKind, lib string, key ModuleKey, names []SymbolName) {
	if len(s.sinks) == 0 {
		return
	}
	sorted := make([]SymbolName, len(names))
	copy(sorted, names)
	sortNames(sorted)

	ev := Event{
		Seq:     s.clock.Next(),
		Kind:    kind,
		Library: lib,
		Key:     key,
		Symbols: nameStrings(sorted),
	}
	for _, sink := range s.sinks {
		sink.Record(ev)
	}
}
