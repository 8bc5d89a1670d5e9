package compile

import (
	"context"
	"log/slog"
	"time"

	"github.com/llir/llvm/ir"

	"github.com/roach88/lazyjit/internal/orc"
)

// Emitter is an orc.IREmitter that compiles each module and hands the
// object to the next layer with the same responsibility.
//
// A compile failure fails every symbol in the responsibility.
type Emitter struct {
	compiler Compiler
	next     *orc.ObjectLayer
	logger   *slog.Logger
	timeout  time.Duration
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// WithTimeout bounds each compilation. Zero means no limit.
func WithTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

// NewEmitter creates an emitter that compiles with c and forwards to next.
func NewEmitter(c Compiler, next *orc.ObjectLayer, opts ...EmitterOption) *Emitter {
	e := &Emitter{compiler: c, next: next, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements orc.IREmitter.
func (e *Emitter) Emit(r *orc.Responsibility, key orc.ModuleKey, m *ir.Module) {
	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	obj, err := e.compiler.Compile(ctx, m)
	if err != nil {
		e.logger.Warn("compile failed", "key", key, "error", err)
		r.Fail()
		return
	}
	e.logger.Debug("module compiled", "key", key, "bytes", len(obj))
	e.next.Emit(r, key, obj)
}
