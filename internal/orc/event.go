package orc

import "sync"

// EventKind names a unit or symbol transition.
type EventKind string

const (
	EventAdded         EventKind = "added"
	EventDiscarded     EventKind = "discarded"
	EventMaterializing EventKind = "materializing"
	EventResolved      EventKind = "resolved"
	EventEmitted       EventKind = "emitted"
	EventFailed        EventKind = "failed"
	EventWithdrawn     EventKind = "withdrawn"
)

// Event records one transition, stamped by the session clock.
// Symbols are sorted by name.
type Event struct {
	Seq     int64     `json:"seq"`
	Kind    EventKind `json:"kind"`
	Library string    `json:"library"`
	Key     ModuleKey `json:"key"`
	Symbols []string  `json:"symbols"`
}

// EventSink receives session events. Record is called synchronously from
// the goroutine performing the transition, possibly while a library lock
// is held, so sinks must not call back into the session.
type EventSink interface {
	Record(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Record calls f(ev).
func (f EventSinkFunc) Record(ev Event) { f(ev) }

// MemorySink collects events in memory.
//
// Thread-safety: safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Record appends ev.
func (s *MemorySink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a copy of the recorded events in arrival order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the kinds recorded for key, in order.
func (s *MemorySink) Kinds(key ModuleKey) []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventKind
	for _, ev := range s.events {
		if ev.Key == key {
			out = append(out, ev.Kind)
		}
	}
	return out
}
