package wir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteULEB(t *testing.T) {
	tests := []struct {
		name     string
		input    uint64
		expected []byte
	}{
		{name: "zero", input: 0, expected: []byte{0x00}},
		{name: "single byte max", input: 127, expected: []byte{0x7F}},
		{name: "two bytes", input: 128, expected: []byte{0x80, 0x01}},
		{name: "value 624485", input: 624485, expected: []byte{0xE5, 0x8E, 0x26}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeULEB(&buf, tt.input)
			assert.Equal(t, tt.expected, buf.Bytes())
		})
	}
}

func TestWriteSLEB(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected []byte
	}{
		{name: "zero", input: 0, expected: []byte{0x00}},
		{name: "positive", input: 8, expected: []byte{0x08}},
		{name: "negative one", input: -1, expected: []byte{0x7F}},
		{name: "negative 128", input: -128, expected: []byte{0x80, 0x7F}},
		{name: "large negative", input: -624485, expected: []byte{0x9B, 0xF1, 0x59}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			writeSLEB(&buf, tt.input)
			assert.Equal(t, tt.expected, buf.Bytes())
		})
	}
}

func TestEncodeEmptyModule(t *testing.T) {
	code, err := Encode(NewModule("empty"))
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(code, []byte("\x00asm\x01\x00\x00\x00")))
	// the linear memory is always exported
	assert.Contains(t, string(code), "memory")
}

func TestEncodeFunctionWithImport(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("answer", I32).Export()
	b := f.Builder()
	v := b.Call("external", I32, b.ConstI32(7))
	b.Ret(v)

	code, err := Encode(m)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(code, []byte("\x00asm")))
	// the unresolved callee became an env import
	assert.Contains(t, string(code), "env")
	assert.Contains(t, string(code), "external")
	assert.Contains(t, string(code), "answer")
}

func TestEncodeStringData(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("get", Ptr).Export()
	b := f.Builder()
	b.Ret(b.StringPtr("hello data"))

	code, err := Encode(m)
	require.NoError(t, err)
	assert.Contains(t, string(code), "hello data\x00")
}

func TestEncodeImportSignatureConflict(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("f", I32)
	b := f.Builder()
	b.Call("ext", Void, b.ConstI32(1))
	b.Ret(b.Call("ext", I32, b.Const(I64, 1)))

	_, err := Encode(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting signatures")
}

func TestEncodeUndefinedSymbol(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("f", Ptr)
	b := f.Builder()
	b.Ret(b.SymbolAddr("no_such_symbol"))

	_, err := Encode(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undefined symbol 'no_such_symbol'")
}

func TestEncodeHeapBaseResolves(t *testing.T) {
	m := NewModule("m")
	m.StringConst("some static data")
	f := m.NewFunc("base", Ptr).Export()
	b := f.Builder()
	b.Ret(b.SymbolAddr("__heap_base"))

	_, err := Encode(m)
	assert.NoError(t, err)
}

func TestEncodeBranchOutsideLoop(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("f", Void)
	b := f.Builder()
	b.Break()
	b.RetVoid()

	_, err := Encode(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "branch outside loop")
}

func TestEncodeControlFlow(t *testing.T) {
	m := NewModule("m")
	f := m.NewFunc("count", I32).Export()
	b := f.Builder()
	n := b.NewVar(b.ConstI32(0))
	b.Loop(func() {
		n.Set(b.Add(n.Get(), b.ConstI32(1)))
		b.If(b.Binary(OpGeU, n.Get(), b.ConstI32(10)), func() {
			b.Break()
		}, nil)
		b.Continue()
	})
	b.Ret(n.Get())

	code, err := Encode(m)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(code, []byte("\x00asm")))
}

func TestLinkMergesModules(t *testing.T) {
	a := NewModule("a")
	fa := a.NewFunc("caller", I32).Export()
	ba := fa.Builder()
	ba.Ret(ba.Call("callee", I32))

	c := NewModule("c")
	fc := c.NewFunc("callee", I32)
	bc := fc.Builder()
	bc.Ret(bc.ConstI32(3))

	linked, err := Link("merged", a, c)
	require.NoError(t, err)
	assert.NotNil(t, linked.Func("caller"))
	assert.NotNil(t, linked.Func("callee"))

	code, err := Encode(linked)
	require.NoError(t, err)
	// both functions resolved internally: no env import section content
	assert.NotContains(t, string(code), "env")
}

func TestLinkDuplicateFunction(t *testing.T) {
	a := NewModule("a")
	a.NewFunc("dup", Void)
	c := NewModule("c")
	c.NewFunc("dup", Void)

	_, err := Link("merged", a, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defined in more than one module")
}
