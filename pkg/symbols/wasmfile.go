package symbols

// WebAssembly container parsing
//
// Reads the section layout of a .wasm binary: section ids, payload offsets
// and custom section names. Two things matter to the symbol server:
//
//   1. The code section offset. DWARF addresses inside a WebAssembly module
//      are relative to the start of the code section; the server converts
//      between those and module file addresses at the query boundary.
//   2. The custom sections named .debug_*, which carry the DWARF data the
//      debug/dwarf package consumes.

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// ErrBadWasm is the sentinel for malformed module files
var ErrBadWasm = fmt.Errorf("malformed wasm module")

const (
	wasmMagic   = "\x00asm"
	wasmVersion = 1

	sectionIdCustom = 0
	sectionIdCode   = 10
)

// Section is one section of a wasm module
type Section struct {
	// Id is the section id byte (0 for custom sections)
	Id byte
	// Name is the section name, custom sections only
	Name string
	// Offset is the file offset of the section contents. For custom
	// sections this is the offset past the name field.
	Offset uint64
	// Data is the section contents
	Data []byte
}

// WasmFile is the parsed section layout of a module file
type WasmFile struct {
	// Path is the file the module was read from
	Path string
	// Sections in file order
	Sections []Section

	codeOffset uint64
	hasCode    bool
	customs    map[string][]byte
}

// LoadWasm reads and parses the section layout of a module file
func LoadWasm(path string) (*WasmFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.MakeError(ErrBadWasm, "cannot read '%s': %v", path, err)
	}
	wf, err := ParseWasm(raw)
	if err != nil {
		return nil, utils.MakeError(err, "in '%s'", path)
	}
	wf.Path = path
	return wf, nil
}

// ParseWasm parses the section layout of a module image
func ParseWasm(raw []byte) (*WasmFile, error) {
	if len(raw) < 8 || string(raw[:4]) != wasmMagic {
		return nil, utils.MakeError(ErrBadWasm, "bad magic")
	}
	if version := binary.LittleEndian.Uint32(raw[4:8]); version != wasmVersion {
		return nil, utils.MakeError(ErrBadWasm, "unsupported version %d", version)
	}

	wf := &WasmFile{customs: map[string][]byte{}}
	offset := uint64(8)
	for offset < uint64(len(raw)) {
		id := raw[offset]
		offset++
		size, n := DecodeULEB128(raw[offset:])
		if n == 0 {
			return nil, utils.MakeError(ErrBadWasm, "truncated section size at offset %d", offset)
		}
		offset += uint64(n)
		if offset+size > uint64(len(raw)) {
			return nil, utils.MakeError(ErrBadWasm, "section %d overruns file", id)
		}

		sec := Section{Id: id, Offset: offset, Data: raw[offset : offset+size]}
		if id == sectionIdCustom {
			name, n, err := readName(sec.Data)
			if err != nil {
				return nil, err
			}
			sec.Name = name
			sec.Offset += uint64(n)
			sec.Data = sec.Data[n:]
			wf.customs[name] = sec.Data
		}
		if id == sectionIdCode && !wf.hasCode {
			wf.codeOffset = sec.Offset
			wf.hasCode = true
		}
		wf.Sections = append(wf.Sections, sec)
		offset += size
	}
	return wf, nil
}

// CodeSectionOffset returns the file offset of the code section contents.
// This is the base address DWARF code addresses are relative to.
func (wf *WasmFile) CodeSectionOffset() uint64 {
	return wf.codeOffset
}

// CustomSection returns the contents of the named custom section, or nil
func (wf *WasmFile) CustomSection(name string) []byte {
	return wf.customs[name]
}

// HasDebugInfo reports whether the module carries DWARF sections
func (wf *WasmFile) HasDebugInfo() bool {
	return wf.customs[".debug_info"] != nil
}

func readName(data []byte) (string, int, error) {
	length, n := DecodeULEB128(data)
	if n == 0 || uint64(n)+length > uint64(len(data)) {
		return "", 0, utils.MakeError(ErrBadWasm, "truncated custom section name")
	}
	return string(data[n : uint64(n)+length]), n + int(length), nil
}

// DecodeULEB128 decodes an unsigned LEB128 value, returning the value and
// the number of bytes consumed (0 when truncated)
func DecodeULEB128(data []byte) (uint64, int) {
	var result uint64
	var shift uint

	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return result, i + 1
		}
	}
	return 0, 0
}

// DecodeSLEB128 decodes a signed LEB128 value, returning the value and the
// number of bytes consumed (0 when truncated)
func DecodeSLEB128(data []byte) (int64, int) {
	var result int64
	var shift uint

	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -(1 << shift)
			}
			return result, i + 1
		}
	}
	return 0, 0
}
