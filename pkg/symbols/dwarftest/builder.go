// Package dwarftest synthesizes small WebAssembly modules carrying DWARF
// debug info, for exercising symbol queries against known ground truth.
//
// The builder writes DWARF version 4 sections directly: a single
// compilation unit in .debug_info with caller supplied DIE children, its
// abbreviation table, and a .debug_line program with one row per
// requested source position. Module wraps everything into a wasm
// container whose code section is a zero-filled blob, so code section
// rebasing is observable in tests.
package dwarftest

import (
	"bytes"
	"encoding/binary"
)

// abbreviation codes, in table order
const (
	abbrevCompileUnit = 1
	abbrevSubprogram  = 2
	abbrevVariable    = 3
	abbrevBaseType    = 4
	abbrevParameter   = 5
	abbrevBlock       = 6
	abbrevArrayType   = 7
	abbrevSubrange    = 8
	abbrevTypedef     = 9
	abbrevStruct      = 10
	abbrevMember      = 11
	abbrevPointer     = 12
	abbrevConst       = 13
)

// DWARF constants used by the writer
const (
	dwTagArrayType       = 0x01
	dwTagFormalParameter = 0x05
	dwTagLexicalBlock    = 0x0b
	dwTagMember          = 0x0d
	dwTagPointerType     = 0x0f
	dwTagCompileUnit     = 0x11
	dwTagStructType      = 0x13
	dwTagTypedef         = 0x16
	dwTagSubrangeType    = 0x21
	dwTagBaseType        = 0x24
	dwTagConstType       = 0x26
	dwTagSubprogram      = 0x2e
	dwTagVariable        = 0x34

	dwAtLocation    = 0x02
	dwAtName        = 0x03
	dwAtByteSize    = 0x0b
	dwAtStmtList    = 0x10
	dwAtLowPc       = 0x11
	dwAtHighPc      = 0x12
	dwAtCount       = 0x37
	dwAtMemberLoc   = 0x38
	dwAtFrameBase   = 0x40
	dwAtType        = 0x49
	dwFormAddr      = 0x01
	dwFormData4     = 0x06
	dwFormString    = 0x08
	dwFormData1     = 0x0b
	dwFormRef4      = 0x13
	dwFormSecOffset = 0x17
	dwFormExprloc   = 0x18
	dwChildrenNo    = 0
	dwChildrenYes   = 1
)

// Member describes one field of a synthesized struct type
type Member struct {
	Name       string
	Type       uint32
	ByteOffset uint32
}

// Row is one line table row
type Row struct {
	// Address is relative to the code section, as wasm DWARF emits it
	Address uint64
	// File is a 1-based index into the line table's file list
	File   int
	Line   int
	Column int
}

// Builder accumulates one compilation unit and its line program
type Builder struct {
	info  bytes.Buffer
	line  bytes.Buffer
	depth int
}

// NewBuilder starts a compilation unit named after its primary source
// file
func NewBuilder(name string) *Builder {
	b := &Builder{}
	// unit header: length (patched), version 4, abbrev offset, address size
	b.info.Write([]byte{0, 0, 0, 0})
	b.info.Write([]byte{4, 0})
	b.info.Write([]byte{0, 0, 0, 0})
	b.info.WriteByte(4)

	writeULEB(&b.info, abbrevCompileUnit)
	b.writeString(name)
	b.writeU32(0) // stmt_list
	return b
}

func (b *Builder) writeString(s string) {
	b.info.WriteString(s)
	b.info.WriteByte(0)
}

func (b *Builder) writeU32(v uint32) {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	b.info.Write(raw[:])
}

func (b *Builder) writeExpr(expr []byte) {
	writeULEB(&b.info, uint64(len(expr)))
	b.info.Write(expr)
}

func (b *Builder) offset() uint32 {
	return uint32(b.info.Len())
}

// BaseType emits a base type DIE and returns its reference
func (b *Builder) BaseType(name string, size byte) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevBaseType)
	b.writeString(name)
	b.info.WriteByte(size)
	return off
}

// Typedef emits a typedef DIE aliasing the underlying type
func (b *Builder) Typedef(name string, underlying uint32) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevTypedef)
	b.writeString(name)
	b.writeU32(underlying)
	return off
}

// PointerType emits a pointer DIE to the pointee
func (b *Builder) PointerType(pointee uint32) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevPointer)
	b.writeU32(pointee)
	return off
}

// ConstType emits a const qualifier DIE
func (b *Builder) ConstType(underlying uint32) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevConst)
	b.writeU32(underlying)
	return off
}

// ArrayType emits an array DIE with a known element count
func (b *Builder) ArrayType(element uint32, count byte) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevArrayType)
	b.writeU32(element)
	writeULEB(&b.info, abbrevSubrange)
	b.info.WriteByte(count)
	b.info.WriteByte(0) // end of array children
	return off
}

// StructType emits an aggregate DIE with byte-offset members
func (b *Builder) StructType(name string, size byte, members []Member) uint32 {
	off := b.offset()
	writeULEB(&b.info, abbrevStruct)
	b.writeString(name)
	b.info.WriteByte(size)
	for _, m := range members {
		writeULEB(&b.info, abbrevMember)
		b.writeString(m.Name)
		b.writeU32(m.Type)
		b.info.WriteByte(byte(m.ByteOffset))
	}
	b.info.WriteByte(0) // end of struct children
	return off
}

// OpenSubprogram starts a function DIE covering [low, high) code section
// relative addresses. Close ends it.
func (b *Builder) OpenSubprogram(name string, low, high uint32, frameBase []byte) {
	writeULEB(&b.info, abbrevSubprogram)
	b.writeString(name)
	b.writeU32(low)
	b.writeU32(high - low)
	b.writeExpr(frameBase)
	b.depth++
}

// OpenBlock starts a lexical block DIE. Close ends it.
func (b *Builder) OpenBlock(low, high uint32) {
	writeULEB(&b.info, abbrevBlock)
	b.writeU32(low)
	b.writeU32(high - low)
	b.depth++
}

// Close ends the innermost open subprogram or block
func (b *Builder) Close() {
	b.info.WriteByte(0)
	b.depth--
}

// Variable emits a variable DIE in the current scope
func (b *Builder) Variable(name string, typeRef uint32, location []byte) {
	writeULEB(&b.info, abbrevVariable)
	b.writeString(name)
	b.writeU32(typeRef)
	b.writeExpr(location)
}

// Parameter emits a formal parameter DIE in the current scope
func (b *Builder) Parameter(name string, typeRef uint32, location []byte) {
	writeULEB(&b.info, abbrevParameter)
	b.writeString(name)
	b.writeU32(typeRef)
	b.writeExpr(location)
}

// Lines emits the line program: one sequence over rows in ascending
// address order, files indexed 1-based, ended at endAddress
func (b *Builder) Lines(files []string, rows []Row, endAddress uint64) {
	var header bytes.Buffer
	header.Write([]byte{1, 1, 1}) // min inst len, max ops, default_is_stmt
	lineBase := int8(-5)
	header.WriteByte(byte(lineBase)) // line_base
	header.WriteByte(14)             // line_range
	header.WriteByte(13)             // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	header.WriteByte(0) // no include directories
	for _, f := range files {
		header.WriteString(f)
		header.WriteByte(0)
		header.Write([]byte{0, 0, 0}) // dir, mtime, size
	}
	header.WriteByte(0)

	var program bytes.Buffer
	address := uint64(0)
	line := 1
	file := 1
	for i, row := range rows {
		if i == 0 {
			program.Write([]byte{0x00, 5, 0x02}) // DW_LNE_set_address
			var raw [4]byte
			binary.LittleEndian.PutUint32(raw[:], uint32(row.Address))
			program.Write(raw[:])
		} else {
			program.WriteByte(0x02) // DW_LNS_advance_pc
			writeULEB(&program, row.Address-address)
		}
		address = row.Address
		if row.File != file {
			program.WriteByte(0x04) // DW_LNS_set_file
			writeULEB(&program, uint64(row.File))
			file = row.File
		}
		program.WriteByte(0x03) // DW_LNS_advance_line
		writeSLEB(&program, int64(row.Line-line))
		line = row.Line
		program.WriteByte(0x05) // DW_LNS_set_column
		writeULEB(&program, uint64(row.Column))
		program.WriteByte(0x01) // DW_LNS_copy
	}
	program.WriteByte(0x02)
	writeULEB(&program, endAddress-address)
	program.Write([]byte{0x00, 1, 0x01}) // DW_LNE_end_sequence

	// unit: length, version, header length, header, program
	body := &b.line
	total := 2 + 4 + header.Len() + program.Len()
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], uint32(total))
	body.Write(raw[:])
	body.Write([]byte{4, 0})
	binary.LittleEndian.PutUint32(raw[:], uint32(header.Len()))
	body.Write(raw[:])
	body.Write(header.Bytes())
	body.Write(program.Bytes())
}

// abbrevTable is the fixed abbreviation table matching the builder's
// DIE shapes
func abbrevTable() []byte {
	var buf bytes.Buffer
	entry := func(code, tag uint64, children byte, attrs ...[2]uint64) {
		writeULEB(&buf, code)
		writeULEB(&buf, tag)
		buf.WriteByte(children)
		for _, attr := range attrs {
			writeULEB(&buf, attr[0])
			writeULEB(&buf, attr[1])
		}
		buf.Write([]byte{0, 0})
	}
	entry(abbrevCompileUnit, dwTagCompileUnit, dwChildrenYes,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtStmtList, dwFormSecOffset})
	entry(abbrevSubprogram, dwTagSubprogram, dwChildrenYes,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtLowPc, dwFormAddr},
		[2]uint64{dwAtHighPc, dwFormData4}, [2]uint64{dwAtFrameBase, dwFormExprloc})
	entry(abbrevVariable, dwTagVariable, dwChildrenNo,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtType, dwFormRef4},
		[2]uint64{dwAtLocation, dwFormExprloc})
	entry(abbrevBaseType, dwTagBaseType, dwChildrenNo,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtByteSize, dwFormData1})
	entry(abbrevParameter, dwTagFormalParameter, dwChildrenNo,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtType, dwFormRef4},
		[2]uint64{dwAtLocation, dwFormExprloc})
	entry(abbrevBlock, dwTagLexicalBlock, dwChildrenYes,
		[2]uint64{dwAtLowPc, dwFormAddr}, [2]uint64{dwAtHighPc, dwFormData4})
	entry(abbrevArrayType, dwTagArrayType, dwChildrenYes,
		[2]uint64{dwAtType, dwFormRef4})
	entry(abbrevSubrange, dwTagSubrangeType, dwChildrenNo,
		[2]uint64{dwAtCount, dwFormData1})
	entry(abbrevTypedef, dwTagTypedef, dwChildrenNo,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtType, dwFormRef4})
	entry(abbrevStruct, dwTagStructType, dwChildrenYes,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtByteSize, dwFormData1})
	entry(abbrevMember, dwTagMember, dwChildrenNo,
		[2]uint64{dwAtName, dwFormString}, [2]uint64{dwAtType, dwFormRef4},
		[2]uint64{dwAtMemberLoc, dwFormData1})
	entry(abbrevPointer, dwTagPointerType, dwChildrenNo,
		[2]uint64{dwAtType, dwFormRef4})
	entry(abbrevConst, dwTagConstType, dwChildrenNo,
		[2]uint64{dwAtType, dwFormRef4})
	buf.WriteByte(0)
	return buf.Bytes()
}

// Module finishes the compilation unit and wraps everything into a wasm
// container whose code section holds codeSize zero bytes
func (b *Builder) Module(codeSize int) []byte {
	for b.depth > 0 {
		b.Close()
	}
	info := append([]byte{}, b.info.Bytes()...)
	info = append(info, 0) // end of compilation unit children
	binary.LittleEndian.PutUint32(info[0:4], uint32(len(info)-4))

	var out bytes.Buffer
	out.WriteString("\x00asm")
	out.Write([]byte{1, 0, 0, 0})

	writeSection := func(id byte, payload []byte) {
		out.WriteByte(id)
		writeULEB(&out, uint64(len(payload)))
		out.Write(payload)
	}
	custom := func(name string, data []byte) {
		var payload bytes.Buffer
		writeULEB(&payload, uint64(len(name)))
		payload.WriteString(name)
		payload.Write(data)
		writeSection(0, payload.Bytes())
	}

	writeSection(10, make([]byte, codeSize))
	custom(".debug_abbrev", abbrevTable())
	custom(".debug_info", info)
	if b.line.Len() > 0 {
		custom(".debug_line", b.line.Bytes())
	}
	return out.Bytes()
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	for {
		chunk := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			chunk |= 0x80
		}
		buf.WriteByte(chunk)
		if v == 0 {
			return
		}
	}
}

func writeSLEB(buf *bytes.Buffer, v int64) {
	for {
		chunk := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && chunk&0x40 == 0) || (v == -1 && chunk&0x40 != 0) {
			buf.WriteByte(chunk)
			return
		}
		buf.WriteByte(chunk | 0x80)
	}
}
