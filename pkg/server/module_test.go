package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/wasm-symbols/pkg/formatter"
	"github.com/Manu343726/wasm-symbols/pkg/symbols/dwarftest"
)

func wasmLocal(index byte) []byte {
	return []byte{0xed, 0x00, index}
}

// debugFixture builds a module image with one unit: main() covering
// [0x10, 0x80) with a parameter, an array local and a nested block, plus
// one global. The line table spans hello.c and printf.h.
func debugFixture(t *testing.T) []byte {
	t.Helper()

	b := dwarftest.NewBuilder("hello.c")
	intType := b.BaseType("int", 4)
	int32Type := b.Typedef("int32_t", intType)
	arrayType := b.ArrayType(intType, 4)

	b.Variable("I", intType, wasmLocal(9))

	b.OpenSubprogram("main", 0x10, 0x80, wasmLocal(0))
	b.Parameter("x", int32Type, wasmLocal(1))
	b.Variable("A", arrayType, wasmLocal(2))
	b.OpenBlock(0x40, 0x60)
	b.Variable("tmp", intType, wasmLocal(3))
	b.Close()
	b.Close()

	b.Lines(
		[]string{"hello.c", "hello.c", "printf.h"},
		[]dwarftest.Row{
			{Address: 0x10, File: 1, Line: 3, Column: 2},
			{Address: 0x20, File: 1, Line: 4, Column: 3},
			{Address: 0x28, File: 1, Line: 4, Column: 3},
			{Address: 0x30, File: 3, Line: 10, Column: 1},
		},
		0x80,
	)
	return b.Module(0x100)
}

func loadFixture(t *testing.T) *WasmModule {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello.wasm")
	require.NoError(t, os.WriteFile(path, debugFixture(t), 0644))

	cache := NewModuleCache()
	m, err := cache.GetModuleFromUrl("hello", path)
	require.NoError(t, err)
	require.True(t, m.Valid())
	return m
}

func TestModuleSourceScripts(t *testing.T) {
	m := loadFixture(t)

	// hello.c appears twice in the file table and once deduplicated here
	assert.Equal(t, []string{"hello.c", "printf.h"}, m.SourceScripts())
}

func TestModuleOffsetQueries(t *testing.T) {
	m := loadFixture(t)

	positions := m.SourceLocationFromOffset(0x10)
	require.Len(t, positions, 1)
	assert.Equal(t, SourcePosition{File: "hello.c", Line: 3, Column: 2}, positions[0])

	// two rows share line 4
	offsets := m.OffsetFromSourceLocation(SourcePosition{File: "hello.c", Line: 4})
	assert.Equal(t, []uint32{0x20, 0x28}, offsets)

	// line with no rows
	assert.Empty(t, m.OffsetFromSourceLocation(SourcePosition{File: "hello.c", Line: 99}))

	// offsets outside any sequence resolve to nothing
	assert.Empty(t, m.SourceLocationFromOffset(0x90))
}

func TestModuleRoundTrip(t *testing.T) {
	m := loadFixture(t)

	// every reported source position maps back to the offset it came from
	for _, offset := range []uint32{0x10, 0x20, 0x28, 0x30} {
		for _, pos := range m.SourceLocationFromOffset(offset) {
			assert.Contains(t, m.OffsetFromSourceLocation(pos), offset,
				"round trip through %s:%d", pos.File, pos.Line)
		}
	}
}

func TestModuleVariablesInScope(t *testing.T) {
	m := loadFixture(t)

	names := func(offset uint32) []string {
		var out []string
		for _, v := range m.VariablesInScope(offset) {
			out = append(out, v.Name)
		}
		return out
	}

	// function scope plus the unconditional globals
	assert.Equal(t, []string{"x", "A", "I"}, names(0x20))
	// the nested block adds its local first
	assert.Equal(t, []string{"tmp", "x", "A", "I"}, names(0x50))
	// outside any function only globals remain
	assert.Equal(t, []string{"I"}, names(0x90))
}

func TestModuleVariableFormatScript(t *testing.T) {
	m := loadFixture(t)
	printer := formatter.NewVariablePrinter()

	t.Run("scalar parameter", func(t *testing.T) {
		code, err := m.VariableFormatScript("x", 0x20, printer)
		require.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.Equal(t, "\x00asm", string(code[:4]))
		assert.Contains(t, string(code), "wasm_format")
	})

	t.Run("array local", func(t *testing.T) {
		code, err := m.VariableFormatScript("A", 0x20, printer)
		require.NoError(t, err)
		assert.Contains(t, string(code), "A[0]")
		assert.Contains(t, string(code), "A[3]")
	})

	t.Run("global fallback", func(t *testing.T) {
		code, err := m.VariableFormatScript("I", 0x20, printer)
		require.NoError(t, err)
		assert.NotEmpty(t, code)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := m.VariableFormatScript("missing", 0x20, printer)
		require.ErrorIs(t, err, ErrVariableNotFound)
		assert.Contains(t, err.Error(), "variable 'missing' not found at offset 32")
	})
}
