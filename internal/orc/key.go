package orc

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// ModuleKey is an opaque identifier correlating a unit across layers and
// diagnostics. It is bound once, at Add, and never changes.
type ModuleKey string

// KeyGenerator produces fresh module keys.
// Implemented by UUIDv7KeyGenerator (production) and SequentialKeyGenerator (tests).
type KeyGenerator interface {
	NewKey() ModuleKey
}

// UUIDv7KeyGenerator generates time-sortable UUIDv7 keys.
//
// Thread-safety: UUIDv7KeyGenerator is stateless and safe for concurrent use.
type UUIDv7KeyGenerator struct{}

// NewKey returns a new UUIDv7 key. Panics if the system entropy source fails.
func (UUIDv7KeyGenerator) NewKey() ModuleKey {
	return ModuleKey(uuid.Must(uuid.NewV7()).String())
}

// SequentialKeyGenerator returns "<prefix>-1", "<prefix>-2", ...
//
// Thread-safety: safe for concurrent use.
type SequentialKeyGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialKeyGenerator creates a generator; an empty prefix means "key".
func NewSequentialKeyGenerator(prefix string) *SequentialKeyGenerator {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeyGenerator{prefix: prefix}
}

// NewKey returns the next key in sequence.
func (g *SequentialKeyGenerator) NewKey() ModuleKey {
	return ModuleKey(fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1)))
}
