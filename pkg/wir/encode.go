package wir

// WebAssembly 1.0 binary encoder
//
// Lowers a linked Module to the binary format: type, import, function,
// memory, export, code and data sections. Static data is laid out from
// dataBase upwards; the linker-defined __heap_base symbol resolves to the
// first address past the static image, which is where the generated
// formatters place their scratch pad.

import (
	"bytes"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

const (
	wasmMagic   = "\x00asm"
	wasmVersion = 1

	// dataBase is the linear memory address of the first data symbol,
	// matching the wasm-ld default data start
	dataBase = 1024

	// heapBaseSymbol resolves to the end of the static data image
	heapBaseSymbol = "__heap_base"

	// importModule is the module name undefined functions are imported from
	importModule = "env"

	wasmPageSize = 65536
)

// section ids
const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11
)

type funcSig struct {
	params string // concatenated value type bytes
	result byte   // 0 for void
}

type importFunc struct {
	name string
	sig  funcSig
}

type encoder struct {
	m *Module

	addrs    map[string]uint32
	heapBase uint32

	imports   []importFunc
	importIdx map[string]int
	funcIdx   map[string]uint32

	types   []funcSig
	typeIdx map[funcSig]uint32
}

// Encode lowers the module to a WebAssembly binary. Data symbols get
// addresses, unresolved calls become env imports and exported functions
// plus the linear memory are exported.
func Encode(m *Module) ([]byte, error) {
	enc := &encoder{
		m:         m,
		addrs:     map[string]uint32{},
		importIdx: map[string]int{},
		funcIdx:   map[string]uint32{},
		typeIdx:   map[funcSig]uint32{},
	}
	if err := enc.layout(); err != nil {
		return nil, err
	}
	if err := enc.collectImports(); err != nil {
		return nil, err
	}
	enc.assignIndices()
	return enc.emit()
}

func align(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func (e *encoder) layout() error {
	addr := uint32(dataBase)
	for _, s := range e.m.symbols {
		addr = align(addr, 8)
		e.addrs[s.Name] = addr
		addr += s.Size
	}
	e.heapBase = align(addr, 16)
	e.addrs[heapBaseSymbol] = e.heapBase
	return nil
}

func sigOf(result Type, args []Value) funcSig {
	var sig funcSig
	for _, a := range args {
		sig.params += string(a.typ.valType())
	}
	if result != Void {
		sig.result = result.valType()
	}
	return sig
}

func (e *encoder) funcSignature(f *Func) funcSig {
	var sig funcSig
	for _, p := range f.Params {
		sig.params += string(p.valType())
	}
	if f.Result != Void {
		sig.result = f.Result.valType()
	}
	return sig
}

// collectImports walks every body and materializes undefined callees as
// imports, deriving signatures from the call sites
func (e *encoder) collectImports() error {
	var walk func(stmts []Stmt) error
	walk = func(stmts []Stmt) error {
		for _, s := range stmts {
			switch st := s.(type) {
			case assignStmt:
				if st.op != OpCall || e.m.funcIndex[st.callee] != nil {
					continue
				}
				sig := sigOf(st.typ, st.args)
				if idx, seen := e.importIdx[st.callee]; seen {
					if e.imports[idx].sig != sig {
						return utils.MakeError(ErrLink, "import '%s' used with conflicting signatures", st.callee)
					}
					continue
				}
				e.importIdx[st.callee] = len(e.imports)
				e.imports = append(e.imports, importFunc{name: st.callee, sig: sig})
			case ifStmt:
				if err := walk(st.then); err != nil {
					return err
				}
				if err := walk(st.els); err != nil {
					return err
				}
			case loopStmt:
				if err := walk(st.body); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, f := range e.m.funcs {
		if err := walk(f.body); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) internType(sig funcSig) uint32 {
	if idx, ok := e.typeIdx[sig]; ok {
		return idx
	}
	idx := uint32(len(e.types))
	e.types = append(e.types, sig)
	e.typeIdx[sig] = idx
	return idx
}

func (e *encoder) assignIndices() {
	for i, imp := range e.imports {
		e.internType(imp.sig)
		e.funcIdx[imp.name] = uint32(i)
	}
	for i, f := range e.m.funcs {
		e.internType(e.funcSignature(f))
		e.funcIdx[f.Name] = uint32(len(e.imports) + i)
	}
}

func writeULEB(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSLEB(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func writeName(buf *bytes.Buffer, s string) {
	writeULEB(buf, uint64(len(s)))
	buf.WriteString(s)
}

func (e *encoder) writeSection(out *bytes.Buffer, id byte, payload *bytes.Buffer) {
	out.WriteByte(id)
	writeULEB(out, uint64(payload.Len()))
	out.Write(payload.Bytes())
}

func (e *encoder) emit() ([]byte, error) {
	var out bytes.Buffer
	out.WriteString(wasmMagic)
	out.Write([]byte{wasmVersion, 0, 0, 0})

	// type section
	var sec bytes.Buffer
	writeULEB(&sec, uint64(len(e.types)))
	for _, sig := range e.types {
		sec.WriteByte(0x60)
		writeULEB(&sec, uint64(len(sig.params)))
		sec.WriteString(sig.params)
		if sig.result == 0 {
			sec.WriteByte(0)
		} else {
			sec.WriteByte(1)
			sec.WriteByte(sig.result)
		}
	}
	e.writeSection(&out, sectionType, &sec)

	// import section
	if len(e.imports) > 0 {
		sec.Reset()
		writeULEB(&sec, uint64(len(e.imports)))
		for _, imp := range e.imports {
			writeName(&sec, importModule)
			writeName(&sec, imp.name)
			sec.WriteByte(0x00) // func import
			writeULEB(&sec, uint64(e.typeIdx[imp.sig]))
		}
		e.writeSection(&out, sectionImport, &sec)
	}

	// function section
	sec.Reset()
	writeULEB(&sec, uint64(len(e.m.funcs)))
	for _, f := range e.m.funcs {
		writeULEB(&sec, uint64(e.typeIdx[e.funcSignature(f)]))
	}
	e.writeSection(&out, sectionFunction, &sec)

	// memory section: enough pages for the static image plus heap slack
	pages := uint64(e.heapBase/wasmPageSize + 1)
	sec.Reset()
	writeULEB(&sec, 1)
	sec.WriteByte(0x00) // min only
	writeULEB(&sec, pages)
	e.writeSection(&out, sectionMemory, &sec)

	// export section
	sec.Reset()
	var exports []*Func
	for _, f := range e.m.funcs {
		if f.Exported {
			exports = append(exports, f)
		}
	}
	writeULEB(&sec, uint64(len(exports)+1))
	for _, f := range exports {
		writeName(&sec, f.Name)
		sec.WriteByte(0x00) // func export
		writeULEB(&sec, uint64(e.funcIdx[f.Name]))
	}
	writeName(&sec, "memory")
	sec.WriteByte(0x02) // memory export
	writeULEB(&sec, 0)
	e.writeSection(&out, sectionExport, &sec)

	// code section
	sec.Reset()
	writeULEB(&sec, uint64(len(e.m.funcs)))
	for _, f := range e.m.funcs {
		body, err := e.emitBody(f)
		if err != nil {
			return nil, err
		}
		writeULEB(&sec, uint64(len(body)))
		sec.Write(body)
	}
	e.writeSection(&out, sectionCode, &sec)

	// data section
	var segments []*DataSymbol
	for _, s := range e.m.symbols {
		if len(s.Bytes) > 0 {
			segments = append(segments, s)
		}
	}
	if len(segments) > 0 {
		sec.Reset()
		writeULEB(&sec, uint64(len(segments)))
		for _, s := range segments {
			writeULEB(&sec, 0) // memory index
			sec.WriteByte(0x41)
			writeSLEB(&sec, int64(e.addrs[s.Name]))
			sec.WriteByte(0x0B)
			writeULEB(&sec, uint64(len(s.Bytes)))
			sec.Write(s.Bytes)
		}
		e.writeSection(&out, sectionData, &sec)
	}

	return out.Bytes(), nil
}

// bodyEncoder tracks the control frame nesting needed to resolve branch
// label depths
type bodyEncoder struct {
	enc    *encoder
	fn     *Func
	buf    bytes.Buffer
	frames []byte // 'b'lock, 'l'oop, 'i'f
}

func (e *encoder) emitBody(f *Func) ([]byte, error) {
	be := &bodyEncoder{enc: e, fn: f}

	// local declarations, compressed into runs of equal value types
	var runs [][2]uint64 // count, valtype
	for _, t := range f.locals[len(f.Params):] {
		vt := uint64(t.valType())
		if len(runs) > 0 && runs[len(runs)-1][1] == vt {
			runs[len(runs)-1][0]++
		} else {
			runs = append(runs, [2]uint64{1, vt})
		}
	}
	writeULEB(&be.buf, uint64(len(runs)))
	for _, r := range runs {
		writeULEB(&be.buf, r[0])
		be.buf.WriteByte(byte(r[1]))
	}

	if err := be.stmts(f.body); err != nil {
		return nil, err
	}
	if f.Result != Void {
		// keep the function end valid when control falls through
		be.buf.WriteByte(0x00) // unreachable
	}
	be.buf.WriteByte(0x0B) // end
	return be.buf.Bytes(), nil
}

func (be *bodyEncoder) value(v Value) error {
	switch v.kind {
	case valConst:
		if v.typ.wide() {
			be.buf.WriteByte(0x42)
			writeSLEB(&be.buf, v.num)
		} else {
			be.buf.WriteByte(0x41)
			writeSLEB(&be.buf, int64(int32(v.num)))
		}
	case valLocal:
		be.buf.WriteByte(0x20)
		writeULEB(&be.buf, uint64(v.num))
	case valSymbol:
		addr, ok := be.enc.addrs[v.sym]
		if !ok {
			return utils.MakeError(ErrLink, "undefined symbol '%s' referenced from '%s'", v.sym, be.fn.Name)
		}
		be.buf.WriteByte(0x41)
		writeSLEB(&be.buf, int64(addr))
	default:
		return utils.MakeError(ErrLink, "use of invalid value in '%s'", be.fn.Name)
	}
	return nil
}

var binaryOpcodes = map[Op][2]byte{
	// i32, i64 encodings
	OpAdd:  {0x6A, 0x7C},
	OpSub:  {0x6B, 0x7D},
	OpMul:  {0x6C, 0x7E},
	OpDivS: {0x6D, 0x7F},
	OpRemS: {0x6F, 0x81},
	OpAnd:  {0x71, 0x83},
	OpOr:   {0x72, 0x84},
	OpXor:  {0x73, 0x85},
	OpShl:  {0x74, 0x86},
	OpShrS: {0x75, 0x87},
	OpShrU: {0x76, 0x88},
	OpEq:   {0x46, 0x51},
	OpNe:   {0x47, 0x52},
	OpLtS:  {0x48, 0x53},
	OpLtU:  {0x49, 0x54},
	OpGtS:  {0x4A, 0x55},
	OpGtU:  {0x4B, 0x56},
	OpGeS:  {0x4E, 0x59},
	OpGeU:  {0x4F, 0x5A},
	OpLeU:  {0x4D, 0x58},
}

func (be *bodyEncoder) stmts(list []Stmt) error {
	for _, s := range list {
		if err := be.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (be *bodyEncoder) stmt(s Stmt) error {
	switch st := s.(type) {
	case assignStmt:
		return be.assign(st)
	case storeStmt:
		if err := be.value(st.addr); err != nil {
			return err
		}
		if err := be.value(st.val); err != nil {
			return err
		}
		switch st.typ {
		case I8:
			be.buf.Write([]byte{0x3A, 0, 0})
		case I16:
			be.buf.Write([]byte{0x3B, 1, 0})
		case I64:
			be.buf.Write([]byte{0x37, 3, 0})
		default:
			be.buf.Write([]byte{0x36, 2, 0})
		}
	case retStmt:
		if st.val.IsValid() {
			if err := be.value(st.val); err != nil {
				return err
			}
		}
		be.buf.WriteByte(0x0F)
	case ifStmt:
		if err := be.value(st.cond); err != nil {
			return err
		}
		be.buf.Write([]byte{0x04, 0x40})
		be.frames = append(be.frames, 'i')
		if err := be.stmts(st.then); err != nil {
			return err
		}
		if len(st.els) > 0 {
			be.buf.WriteByte(0x05)
			if err := be.stmts(st.els); err != nil {
				return err
			}
		}
		be.frames = be.frames[:len(be.frames)-1]
		be.buf.WriteByte(0x0B)
	case loopStmt:
		// a block wrapping a loop: br to the block breaks, br to the
		// loop continues
		be.buf.Write([]byte{0x02, 0x40, 0x03, 0x40})
		be.frames = append(be.frames, 'b', 'l')
		if err := be.stmts(st.body); err != nil {
			return err
		}
		// wasm loops fall through unless branched to; repeat explicitly
		be.buf.Write([]byte{0x0C, 0x00})
		be.frames = be.frames[:len(be.frames)-2]
		be.buf.Write([]byte{0x0B, 0x0B})
	case brStmt:
		loopIdx := -1
		for i := len(be.frames) - 1; i >= 0; i-- {
			if be.frames[i] == 'l' {
				loopIdx = i
				break
			}
		}
		if loopIdx < 0 {
			return utils.MakeError(ErrLink, "branch outside loop in '%s'", be.fn.Name)
		}
		depth := len(be.frames) - 1 - loopIdx
		if !st.cont {
			depth++ // the wrapping block sits right below the loop frame
		}
		be.buf.WriteByte(0x0C)
		writeULEB(&be.buf, uint64(depth))
	default:
		return utils.MakeError(ErrLink, "unknown statement %T in '%s'", s, be.fn.Name)
	}
	return nil
}

func (be *bodyEncoder) assign(st assignStmt) error {
	for _, a := range st.args {
		if err := be.value(a); err != nil {
			return err
		}
	}
	switch st.op {
	case OpMove:
		// value already on the stack
	case OpCall:
		idx, ok := be.enc.funcIdx[st.callee]
		if !ok {
			return utils.MakeError(ErrLink, "call to unknown function '%s'", st.callee)
		}
		be.buf.WriteByte(0x10)
		writeULEB(&be.buf, uint64(idx))
	case OpLoad:
		switch st.typ {
		case I8:
			if st.signed {
				be.buf.Write([]byte{0x2C, 0, 0})
			} else {
				be.buf.Write([]byte{0x2D, 0, 0})
			}
		case I16:
			if st.signed {
				be.buf.Write([]byte{0x2E, 1, 0})
			} else {
				be.buf.Write([]byte{0x2F, 1, 0})
			}
		case I64:
			be.buf.Write([]byte{0x29, 3, 0})
		default:
			be.buf.Write([]byte{0x28, 2, 0})
		}
	case OpCast:
		from := st.args[0].typ
		switch {
		case from.wide() && !st.typ.wide():
			be.buf.WriteByte(0xA7) // i32.wrap_i64
		case !from.wide() && st.typ.wide():
			if st.signed {
				be.buf.WriteByte(0xAC) // i64.extend_i32_s
			} else {
				be.buf.WriteByte(0xAD) // i64.extend_i32_u
			}
		}
	default:
		ops, ok := binaryOpcodes[st.op]
		if !ok {
			return utils.MakeError(ErrLink, "unknown operation %s in '%s'", st.op, be.fn.Name)
		}
		if st.args[0].typ.wide() {
			be.buf.WriteByte(ops[1])
		} else {
			be.buf.WriteByte(ops[0])
		}
	}
	if st.op == OpCall && st.typ == Void {
		return nil
	}
	if st.dst < 0 {
		be.buf.WriteByte(0x1A) // drop
		return nil
	}
	be.buf.WriteByte(0x21) // local.set
	writeULEB(&be.buf, uint64(st.dst))
	return nil
}
