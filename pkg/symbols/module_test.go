package symbols

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/wasm-symbols/pkg/symbols/dwarftest"
)

// opWasmLocationLocal builds the vendor location expression reading a
// wasm local
func opWasmLocationLocal(index byte) []byte {
	return []byte{0xed, 0x00, index}
}

// testModule synthesizes a module with one compilation unit, a function
// with a nested block, typed variables, and a global
func testModule(t *testing.T) *Module {
	t.Helper()

	b := dwarftest.NewBuilder("hello.c")
	intType := b.BaseType("int", 4)
	charType := b.BaseType("char", 1)
	int32Type := b.Typedef("int32_t", intType)
	arrayType := b.ArrayType(intType, 4)
	constChar := b.ConstType(charType)
	stringType := b.PointerType(constChar)
	pairType := b.StructType("Pair", 8, []dwarftest.Member{
		{Name: "first", Type: intType, ByteOffset: 0},
		{Name: "second", Type: intType, ByteOffset: 4},
	})

	b.Variable("I", intType, opWasmLocationLocal(9))

	b.OpenSubprogram("main", 0x10, 0x80, opWasmLocationLocal(0))
	b.Parameter("x", int32Type, opWasmLocationLocal(1))
	b.Variable("a", arrayType, opWasmLocationLocal(2))
	b.Variable("s", stringType, opWasmLocationLocal(3))
	b.Variable("p", pairType, opWasmLocationLocal(4))
	b.OpenBlock(0x40, 0x60)
	b.Variable("tmp", intType, opWasmLocationLocal(5))
	b.Close()
	b.Close()

	b.Lines(
		[]string{"hello.c", "printf.h"},
		[]dwarftest.Row{
			{Address: 0x10, File: 1, Line: 3, Column: 2},
			{Address: 0x20, File: 1, Line: 4, Column: 3},
			{Address: 0x28, File: 2, Line: 10, Column: 1},
		},
		0x80,
	)

	path := filepath.Join(t.TempDir(), "hello.wasm")
	require.NoError(t, os.WriteFile(path, b.Module(0x100), 0644))

	m, err := Open(path)
	require.NoError(t, err)
	require.True(t, m.Valid())
	return m
}

func TestModuleCompileUnits(t *testing.T) {
	m := testModule(t)

	units := m.CompileUnits()
	require.Len(t, units, 1)
	assert.Equal(t, "hello.c", units[0].Name)

	var names []string
	for _, f := range units[0].SupportFiles() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"hello.c", "printf.h"}, names)
}

func TestModuleLineTableRebased(t *testing.T) {
	m := testModule(t)
	base := m.CodeSectionOffset()
	require.NotZero(t, base)

	cu := m.CompileUnits()[0]

	entry, found := cu.FindLineEntry(base + 0x10)
	require.True(t, found)
	assert.Equal(t, 3, entry.Line)
	assert.Equal(t, 2, entry.Column)
	assert.Equal(t, "hello.c", entry.File)

	// addresses inside a row's range resolve to that row
	entry, found = cu.FindLineEntry(base + 0x1F)
	require.True(t, found)
	assert.Equal(t, 3, entry.Line)

	matches := cu.EntriesForLine("printf.h", 10)
	require.Len(t, matches, 1)
	assert.Equal(t, base+0x28, matches[0].Address)

	_, found = cu.FindLineEntry(base + 0x80)
	assert.False(t, found)
}

func TestModuleFunctionsAndScopes(t *testing.T) {
	m := testModule(t)
	base := m.CodeSectionOffset()

	require.Len(t, m.Functions(), 1)
	fn := m.Functions()[0]
	assert.Equal(t, "main", fn.Name)
	assert.True(t, fn.Contains(base+0x10))
	assert.False(t, fn.Contains(base+0x80))

	outer := variableNames(m.VariablesAt(base + 0x20))
	assert.Equal(t, []string{"x", "a", "s", "p"}, outer)

	inner := variableNames(m.VariablesAt(base + 0x50))
	assert.Equal(t, []string{"tmp", "x", "a", "s", "p"}, inner)

	globals := variableNames(m.Globals())
	assert.Equal(t, []string{"I"}, globals)
}

func TestModuleVariableTypes(t *testing.T) {
	m := testModule(t)
	base := m.CodeSectionOffset()

	byName := map[string]*Variable{}
	for _, v := range m.VariablesAt(base + 0x20) {
		byName[v.Name] = v
	}

	x := byName["x"]
	require.NotNil(t, x)
	assert.Equal(t, ScopeParameter, x.Scope)
	assert.Equal(t, "int32_t", x.TypeName)
	assert.Equal(t, KindScalar, x.Type.Kind)
	assert.EqualValues(t, 4, x.Type.ByteSize)
	assert.NotNil(t, x.Fn)
	assert.Equal(t, "main", x.Fn.Name)

	a := byName["a"]
	require.NotNil(t, a)
	assert.Equal(t, "int [4]", a.TypeName)
	assert.Equal(t, KindArray, a.Type.Kind)
	assert.EqualValues(t, 4, a.Type.Count)
	assert.False(t, a.Type.Incomplete)
	assert.Equal(t, "int", a.Type.Elem.Name)
	assert.EqualValues(t, 16, a.Type.ByteSize)

	s := byName["s"]
	require.NotNil(t, s)
	assert.Equal(t, "const char *", s.TypeName)
	assert.Equal(t, KindPointer, s.Type.Kind)

	p := byName["p"]
	require.NotNil(t, p)
	assert.Equal(t, "Pair", p.TypeName)
	assert.Equal(t, KindAggregate, p.Type.Kind)
	require.Len(t, p.Type.Fields, 2)
	assert.Equal(t, "first", p.Type.Fields[0].Name)
	assert.EqualValues(t, 0, p.Type.Fields[0].BitOffset)
	assert.Equal(t, "second", p.Type.Fields[1].Name)
	assert.EqualValues(t, 32, p.Type.Fields[1].BitOffset)

	global := m.FindVariable(base+0x20, "I")
	require.NotNil(t, global)
	assert.Equal(t, ScopeGlobal, global.Scope)
	assert.Equal(t, "int", global.TypeName)
	assert.Nil(t, global.Fn)
}

func TestModuleVariableLocations(t *testing.T) {
	m := testModule(t)
	base := m.CodeSectionOffset()

	x := m.FindVariable(base+0x20, "x")
	require.NotNil(t, x)
	assert.Equal(t, opWasmLocationLocal(1), x.Location)
	require.NotNil(t, x.Fn)
	assert.Equal(t, opWasmLocationLocal(0), x.Fn.FrameBase)
}
