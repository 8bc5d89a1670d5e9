package cli

import (
	"bytes"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/lazyjit/internal/testutil"
)

const libIR = `@counter = global i32 0

define i32 @foo() {
entry:
  ret i32 0
}

define weak void @bar() {
entry:
  ret void
}
`

// writeFile writes data under dir and returns the path.
func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// writeInputs writes lib.ll and util.o (defining baz and table) to a
// fresh directory.
func writeInputs(t *testing.T) (dir, ll, obj string) {
	t.Helper()
	dir = t.TempDir()
	ll = writeFile(t, dir, "lib.ll", []byte(libIR))
	obj = writeFile(t, dir, "util.o", testutil.Object(
		testutil.Func("baz", elf.STB_GLOBAL),
		testutil.Data("table", elf.STB_WEAK),
	))
	return dir, ll, obj
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
