package link

import (
	"fmt"
	"sync"
)

// DefaultArenaBase is where a default Arena starts allocating.
const DefaultArenaBase uint64 = 0x10000000

// Arena hands out non-overlapping address ranges for linked sections. It
// only assigns addresses; nothing is mapped.
//
// Thread-safety: safe for concurrent use.
type Arena struct {
	mu    sync.Mutex
	base  uint64
	next  uint64
	limit uint64
}

// NewArena creates an arena covering [base, base+size). A size of 0 means
// unbounded.
func NewArena(base, size uint64) *Arena {
	a := &Arena{base: base, next: base}
	if size > 0 {
		a.limit = base + size
	}
	return a
}

// Allocate reserves size bytes aligned to align (a power of two; 0 or 1
// means unaligned) and returns the start address.
func (a *Arena) Allocate(size, align uint64) (uint64, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two", align)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := (a.next + align - 1) &^ (align - 1)
	end := start + size
	if end < start || (a.limit != 0 && end > a.limit) {
		return 0, fmt.Errorf("arena exhausted: need %d bytes at %#x, limit %#x", size, start, a.limit)
	}
	// Zero-sized allocations still get a distinct address.
	if size == 0 {
		end = start + 1
	}
	a.next = end
	return start, nil
}

// Used returns the number of bytes consumed, including padding.
func (a *Arena) Used() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next - a.base
}
