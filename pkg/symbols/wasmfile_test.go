package symbols

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeULEB128 tests unsigned LEB128 decoding
func TestDecodeULEB128(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected uint64
		length   int
	}{
		{
			name:     "zero",
			input:    []byte{0x00},
			expected: 0,
			length:   1,
		},
		{
			name:     "single byte max",
			input:    []byte{0x7F},
			expected: 127,
			length:   1,
		},
		{
			name:     "two bytes",
			input:    []byte{0x80, 0x01},
			expected: 128,
			length:   2,
		},
		{
			name:     "value 624485",
			input:    []byte{0xE5, 0x8E, 0x26},
			expected: 624485,
			length:   3,
		},
		{
			name:     "trailing bytes ignored",
			input:    []byte{0x08, 0xFF},
			expected: 8,
			length:   1,
		},
		{
			name:   "truncated",
			input:  []byte{0x80},
			length: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, n := DecodeULEB128(tt.input)
			assert.Equal(t, tt.length, n)
			if tt.length > 0 {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

// TestDecodeSLEB128 tests signed LEB128 decoding
func TestDecodeSLEB128(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected int64
		length   int
	}{
		{
			name:     "zero",
			input:    []byte{0x00},
			expected: 0,
			length:   1,
		},
		{
			name:     "positive single byte",
			input:    []byte{0x08},
			expected: 8,
			length:   1,
		},
		{
			name:     "negative single byte",
			input:    []byte{0x7F},
			expected: -1,
			length:   1,
		},
		{
			name:     "negative 64",
			input:    []byte{0x40},
			expected: -64,
			length:   1,
		},
		{
			name:     "positive two bytes",
			input:    []byte{0x80, 0x01},
			expected: 128,
			length:   2,
		},
		{
			name:     "negative two bytes",
			input:    []byte{0x80, 0x7F},
			expected: -128,
			length:   2,
		},
		{
			name:     "large negative",
			input:    []byte{0x9B, 0xF1, 0x59},
			expected: -624485,
			length:   3,
		},
		{
			name:   "truncated",
			input:  []byte{0xFF},
			length: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, n := DecodeSLEB128(tt.input)
			assert.Equal(t, tt.length, n)
			if tt.length > 0 {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

// buildContainer assembles a wasm image out of raw sections
func buildContainer(sections ...[]byte) []byte {
	image := []byte("\x00asm\x01\x00\x00\x00")
	for _, section := range sections {
		image = append(image, section...)
	}
	return image
}

func rawSection(id byte, payload []byte) []byte {
	section := []byte{id, byte(len(payload))}
	return append(section, payload...)
}

func customSection(name string, data []byte) []byte {
	payload := append([]byte{byte(len(name))}, name...)
	payload = append(payload, data...)
	return rawSection(0, payload)
}

func TestParseWasmRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "bad magic", input: []byte("\x7FELF\x01\x00\x00\x00")},
		{name: "bad version", input: []byte("\x00asm\x02\x00\x00\x00")},
		{name: "section overrun", input: buildContainer([]byte{10, 0x20, 0x00})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWasm(tt.input)
			assert.ErrorIs(t, err, ErrBadWasm)
		})
	}
}

func TestParseWasmSections(t *testing.T) {
	typePayload := []byte{0x00}
	codePayload := []byte{0x01, 0x02, 0x03, 0x04}
	image := buildContainer(
		rawSection(1, typePayload),
		rawSection(10, codePayload),
		customSection(".debug_info", []byte{0xAA, 0xBB}),
	)

	wf, err := ParseWasm(image)
	require.NoError(t, err)

	require.Len(t, wf.Sections, 3)
	assert.Equal(t, byte(1), wf.Sections[0].Id)
	assert.Equal(t, byte(10), wf.Sections[1].Id)
	assert.Equal(t, ".debug_info", wf.Sections[2].Name)

	// code payload starts after magic+version, the type section, and the
	// code section's id and size bytes
	expectedCodeOffset := uint64(8 + len(rawSection(1, typePayload)) + 2)
	assert.Equal(t, expectedCodeOffset, wf.CodeSectionOffset())
	assert.True(t, bytes.Equal(codePayload, wf.Sections[1].Data))

	assert.Equal(t, []byte{0xAA, 0xBB}, wf.CustomSection(".debug_info"))
	assert.True(t, wf.HasDebugInfo())
	assert.Nil(t, wf.CustomSection(".debug_line"))
}

func TestParseWasmWithoutDebugInfo(t *testing.T) {
	wf, err := ParseWasm(buildContainer(rawSection(10, []byte{0x00})))
	require.NoError(t, err)
	assert.False(t, wf.HasDebugInfo())

	m, err := NewModule(wf)
	require.NoError(t, err)
	assert.False(t, m.Valid())
	assert.Empty(t, m.CompileUnits())
}
