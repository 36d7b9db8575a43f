package formatter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Manu343726/wasm-symbols/pkg/symbols"
)

func scalarType(name string, size uint32) *symbols.TypeInfo {
	return &symbols.TypeInfo{Name: name, ByteSize: size, Kind: symbols.KindScalar}
}

func localVariable(typeInfo *symbols.TypeInfo, localIndex byte) *symbols.Variable {
	return &symbols.Variable{
		Name:     "v",
		Scope:    symbols.ScopeLocal,
		TypeName: typeInfo.Name,
		Type:     typeInfo,
		Location: []byte{0xed, 0x00, localIndex},
		Fn:       &symbols.Function{Name: "main"},
	}
}

func generate(t *testing.T, v *symbols.Variable) []byte {
	t.Helper()
	printer := NewVariablePrinter()
	module, err := printer.GenerateModule(v.Name, v)
	require.NoError(t, err)
	code, err := printer.GenerateCode(module)
	require.NoError(t, err)
	return code
}

func TestGenerateScalarFormatter(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		size     uint32
	}{
		{name: "int64", typeName: "int64_t", size: 8},
		{name: "int32", typeName: "int32_t", size: 4},
		{name: "plain int", typeName: "int", size: 4},
		{name: "int8", typeName: "int8_t", size: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := generate(t, localVariable(scalarType(tt.typeName, tt.size), 2))

			assert.True(t, bytes.HasPrefix(code, []byte("\x00asm\x01\x00\x00\x00")))
			// the single entry point and the debugger imports
			assert.Contains(t, string(code), "wasm_format")
			assert.Contains(t, string(code), "__getLocal")
			assert.Contains(t, string(code), "__getMemory")
			assert.Contains(t, string(code), "sbrk")
			assert.Contains(t, string(code), "env")
		})
	}
}

func TestGenerateStringFormatter(t *testing.T) {
	stringType := &symbols.TypeInfo{
		Name:     "const char *",
		ByteSize: 4,
		Kind:     symbols.KindPointer,
		Elem:     scalarType("char", 1),
	}
	code := generate(t, localVariable(stringType, 1))
	assert.Contains(t, string(code), "wasm_format")
}

func TestGenerateArrayFormatter(t *testing.T) {
	arrayType := &symbols.TypeInfo{
		Name:     "int [4]",
		ByteSize: 16,
		Kind:     symbols.KindArray,
		Elem:     scalarType("int", 4),
		Count:    4,
	}
	v := localVariable(arrayType, 3)
	v.Name = "A"

	code := generate(t, v)
	assert.Contains(t, string(code), "wasm_format")
	// unrolled element names land in the data section
	assert.Contains(t, string(code), "A[0]")
	assert.Contains(t, string(code), "A[3]")
}

func TestGenerateAggregateFormatter(t *testing.T) {
	pair := &symbols.TypeInfo{
		Name:     "Pair",
		ByteSize: 8,
		Kind:     symbols.KindAggregate,
		Fields: []symbols.Field{
			{Name: "first", BitOffset: 0, Type: scalarType("int", 4)},
			{Name: "second", BitOffset: 32, Type: scalarType("int", 4)},
		},
	}
	code := generate(t, localVariable(pair, 0))
	assert.Contains(t, string(code), "Pair")
	assert.Contains(t, string(code), "first")
	assert.Contains(t, string(code), "second")
}

func TestGenerateNestedAggregate(t *testing.T) {
	inner := &symbols.TypeInfo{
		Name:     "Inner",
		ByteSize: 8,
		Kind:     symbols.KindAggregate,
		Fields: []symbols.Field{
			{Name: "a", BitOffset: 0, Type: scalarType("int32_t", 4)},
			{Name: "b", BitOffset: 32, Type: scalarType("int32_t", 4)},
		},
	}
	outer := &symbols.TypeInfo{
		Name:     "Outer",
		ByteSize: 16,
		Kind:     symbols.KindAggregate,
		Fields: []symbols.Field{
			{Name: "head", BitOffset: 0, Type: scalarType("int64_t", 8)},
			{Name: "tail", BitOffset: 64, Type: inner},
		},
	}
	code := generate(t, localVariable(outer, 0))
	assert.Contains(t, string(code), "Outer")
	assert.Contains(t, string(code), "tail")
}

func TestGenerateFailures(t *testing.T) {
	printer := NewVariablePrinter()

	t.Run("no formatter for type", func(t *testing.T) {
		v := localVariable(scalarType("long double", 16), 0)
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no formatter for type 'long double'")
	})

	t.Run("array of unknown size", func(t *testing.T) {
		v := localVariable(&symbols.TypeInfo{
			Name:       "int []",
			Kind:       symbols.KindArray,
			Elem:       scalarType("int", 4),
			Incomplete: true,
		}, 0)
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown size")
	})

	t.Run("element without byte size", func(t *testing.T) {
		v := localVariable(&symbols.TypeInfo{
			Name:  "odd [2]",
			Kind:  symbols.KindArray,
			Elem:  scalarType("odd", 0),
			Count: 2,
		}, 0)
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "byte size")
	})

	t.Run("bitfield member", func(t *testing.T) {
		v := localVariable(&symbols.TypeInfo{
			Name: "Packed",
			Kind: symbols.KindAggregate,
			Fields: []symbols.Field{
				{Name: "bits", BitOffset: 3, Type: scalarType("int", 4)},
			},
		}, 0)
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not byte-aligned")
	})

	t.Run("untyped variable", func(t *testing.T) {
		v := localVariable(scalarType("int", 4), 0)
		v.Type = nil
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no type information")
	})

	t.Run("unsupported type category", func(t *testing.T) {
		v := localVariable(&symbols.TypeInfo{Name: "void ()", Kind: symbols.KindOther}, 0)
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unhandled type category")
	})

	t.Run("bad location expression", func(t *testing.T) {
		v := localVariable(scalarType("int", 4), 0)
		v.Location = []byte{0x50} // DW_OP_reg0
		_, err := printer.GenerateModule(v.Name, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported for WebAssembly")
	})
}

func TestGenerateCodeDeterministic(t *testing.T) {
	v := localVariable(scalarType("int32_t", 4), 2)
	first := generate(t, v)
	second := generate(t, v)
	assert.Equal(t, first, second)
}
