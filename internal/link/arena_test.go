package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocateAligns(t *testing.T) {
	a := NewArena(0x1000, 0)

	first, err := a.Allocate(3, 16)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), first)

	second, err := a.Allocate(8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1008), second)

	third, err := a.Allocate(1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1010), third)

	assert.Equal(t, uint64(0x11), a.Used())
}

func TestArena_ZeroSizeGetsDistinctAddress(t *testing.T) {
	a := NewArena(0, 0)
	x, err := a.Allocate(0, 1)
	require.NoError(t, err)
	y, err := a.Allocate(0, 1)
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}

func TestArena_Errors(t *testing.T) {
	a := NewArena(0x100, 0x20)

	_, err := a.Allocate(4, 3)
	assert.ErrorContains(t, err, "power of two")

	_, err = a.Allocate(0x18, 8)
	require.NoError(t, err)
	_, err = a.Allocate(0x10, 8)
	assert.ErrorContains(t, err, "arena exhausted")

	// A failed allocation consumes nothing.
	addr, err := a.Allocate(8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x118), addr)
}
