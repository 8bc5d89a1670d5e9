package testutil

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lazyjit/internal/objfile"
)

func TestParseModule(t *testing.T) {
	m := ParseModule(t, "define void @f() {\nentry:\n  ret void\n}\n")
	require.Len(t, m.Funcs, 1)
	assert.Equal(t, "f", m.Funcs[0].Name())
}

func TestObject_RoundTrips(t *testing.T) {
	obj := Object(Func("f", elf.STB_GLOBAL), Data("d", elf.STB_WEAK))

	f, err := objfile.Parse(obj)
	require.NoError(t, err)

	var names []string
	for _, s := range f.Symbols {
		if f.IsExternal(s) {
			names = append(names, s.Name)
		}
	}
	assert.ElementsMatch(t, []string{"f", "d"}, names)
}

func TestQuietLogger(t *testing.T) {
	l := QuietLogger()
	require.NotNil(t, l)
	l.Info("dropped")
}
