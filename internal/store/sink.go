package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/lazyjit/internal/orc"
)

// Sink writes session events to a run. It implements orc.EventSink.
//
// Record cannot return an error, so write failures are logged and the
// first one is kept for Err.
type Sink struct {
	store  *Store
	run    string
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewSink creates a sink for run. The run must already be written.
func NewSink(s *Store, run string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: s, run: run, logger: logger}
}

// Record implements orc.EventSink.
func (k *Sink) Record(ev orc.Event) {
	if err := k.store.WriteEvent(context.Background(), k.run, ev); err != nil {
		k.logger.Error("event not persisted", "run", k.run, "seq", ev.Seq, "kind", ev.Kind, "error", err)
		k.mu.Lock()
		if k.err == nil {
			k.err = err
		}
		k.mu.Unlock()
	}
}

// Err returns the first write error, if any.
func (k *Sink) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.err
}
