package orc

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioAModule = `
define i32 @foo() {
entry:
  ret i32 0
}

define weak i32 @bar() {
entry:
  ret i32 1
}
`

const mixedModule = `
@counter = global i32 0
@hidden_data = hidden global i32 1
@internal_data = internal global i32 2
@private_data = private global i32 3
@ext = external global i32
@weak_data = weak global i32 4
@odr_data = linkonce_odr global i32 5
@common_data = common global i32 0
@inlined = available_externally global i32 6
@llvm.used = appending global [0 x i8*] zeroinitializer

@foo_alias = alias i32 (), i32 ()* @foo

define i32 @foo() {
entry:
  ret i32 0
}

define internal i32 @helper() {
entry:
  ret i32 1
}

declare i32 @puts(i8*)
`

func TestNewIRUnit_ScenarioA(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, scenarioAModule))
	require.NoError(t, err)

	assert.Equal(t, map[string]SymbolFlags{
		"foo": FlagExported | FlagCallable,
		"bar": FlagExported | FlagCallable | FlagWeak,
	}, flagsByName(u.Symbols()))
	assert.Len(t, u.defs, 2)
}

func TestNewIRUnit_OnlyExternallyVisibleDefinitions(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, mixedModule))
	require.NoError(t, err)

	assert.Equal(t, map[string]SymbolFlags{
		"counter":     FlagExported,
		"hidden_data": 0,
		"weak_data":   FlagExported | FlagWeak,
		"odr_data":    FlagExported | FlagWeak,
		"common_data": FlagExported | FlagWeak | FlagCommon,
		"foo":         FlagExported | FlagCallable,
		"foo_alias":   FlagExported | FlagCallable,
	}, flagsByName(u.Symbols()))

	// Key sets of both maps match.
	require.Len(t, u.defs, len(u.flags))
	for name := range u.flags {
		def, ok := u.defs[name]
		require.True(t, ok, "missing definition for %s", name)
		assert.Equal(t, name.String(), def.Name())
	}
}

func TestNewIRUnit_DistinctSpellingsStayDistinct(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, `
define i32 @"caf\C3\A9"() {
entry:
  ret i32 0
}

define i32 @"cafe\CC\81"() {
entry:
  ret i32 1
}
`))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"caf\u00e9", "cafe\u0301"}, u.Symbols().Strings())
	require.Len(t, u.defs, 2)
	assert.Equal(t, "cafe\u0301", u.defs[s.MustIntern("cafe\u0301")].Name())
}

func TestNewIRUnit_EmptyModule(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, `
@internal_only = internal global i32 0
declare void @abort()
`))
	require.NoError(t, err)
	assert.Empty(t, u.Symbols())
	assert.NotNil(t, u.Module())
}

func TestNewIRUnit_InternFailure(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := NewIRUnit(s, parseModule(t, `@llvm.not_appending = global i32 0`))

	var ie *InvalidSymbolNameError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "llvm.not_appending", ie.Name)
}

func TestNewIRUnit_AppliesGlobalPrefix(t *testing.T) {
	s, _ := newTestSession(t, WithGlobalPrefix("_"))
	u, err := NewIRUnit(s, parseModule(t, scenarioAModule))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"_foo", "_bar"}, u.Symbols().Strings())
	assert.Equal(t, "foo", u.defs[s.MustIntern("_foo")].Name(), "module names stay unmangled")
}

func TestIRUnit_DiscardDemotesLinkage(t *testing.T) {
	s, _ := newTestSession(t)
	m := parseModule(t, scenarioAModule)
	u, err := NewIRUnit(s, m)
	require.NoError(t, err)

	u.discard(s.MainLibrary(), s.MustIntern("bar"))

	assert.Equal(t, []string{"foo"}, u.Symbols().Strings())
	assert.NotContains(t, u.defs, s.MustIntern("bar"))

	bar := findFunc(t, m, "bar")
	assert.Equal(t, enum.LinkageAvailableExternally, bar.Linkage)
	assert.NotEmpty(t, bar.Blocks, "body stays for internal references")

	foo := findFunc(t, m, "foo")
	assert.NotEqual(t, enum.LinkageAvailableExternally, foo.Linkage)
}

func TestIRUnit_DiscardGlobalAndAlias(t *testing.T) {
	s, _ := newTestSession(t)
	m := parseModule(t, mixedModule)
	u, err := NewIRUnit(s, m)
	require.NoError(t, err)

	u.discard(nil, s.MustIntern("weak_data"))
	u.discard(nil, s.MustIntern("foo_alias"))

	for _, g := range m.Globals {
		if g.Name() == "weak_data" {
			assert.Equal(t, enum.LinkageAvailableExternally, g.Linkage)
		}
	}
	require.Len(t, m.Aliases, 1)
	assert.Equal(t, enum.LinkageAvailableExternally, m.Aliases[0].Linkage)
	assert.Len(t, u.Symbols(), 5)
}

func TestIRUnit_DiscardUnknownNamePanics(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, scenarioAModule))
	require.NoError(t, err)

	assert.Panics(t, func() { u.discard(nil, s.MustIntern("nope")) })

	u.discard(nil, s.MustIntern("bar"))
	assert.Panics(t, func() { u.discard(nil, s.MustIntern("bar")) }, "second discard of the same name")
}

func TestNewIRUnitFromMaps_UsesGivenMaps(t *testing.T) {
	s, _ := newTestSession(t)
	m := parseModule(t, scenarioAModule)
	foo := findFunc(t, m, "foo")

	// Only foo is promised; bar stays private to this unit's owner.
	name := s.MustIntern("foo")
	u := NewIRUnitFromMaps(m, SymbolFlagsMap{name: FlagExported | FlagCallable},
		SymbolToDefinitionMap{name: foo})

	assert.Equal(t, []string{"foo"}, u.Symbols().Strings())
	assert.Same(t, m, u.Module())

	u.discard(nil, name)
	assert.Equal(t, enum.LinkageAvailableExternally, foo.Linkage)
	assert.Empty(t, u.Symbols())
}

func TestIRUnit_ReleaseDropsPayload(t *testing.T) {
	s, _ := newTestSession(t)
	u, err := NewIRUnit(s, parseModule(t, scenarioAModule))
	require.NoError(t, err)

	u.release()
	assert.Nil(t, u.Module())
	assert.Nil(t, u.Symbols())
}

func findFunc(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("function %s not found", name)
	return nil
}
