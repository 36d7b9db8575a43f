package formatter

// DWARF Location Expression Compiler
//
// Lowers a DWARF location expression to IR computing the variable's byte
// address in the debuggee's linear memory. The expression is a little
// stack machine program; each opcode manipulates a compile-time stack of
// IR values, so the result of compilation is straight-line code with no
// interpreter in the generated module.
//
// WebAssembly has no registers, so the register opcode families fail, and
// the vendor DW_OP_WASM_location opcode reads wasm locals through the
// __getLocal callback the debugger provides. Loads through the callbacks
// go via per-type scratch slots: the callback writes the bytes into the
// slot, the generated code loads the typed value back.

import (
	"fmt"

	"github.com/Manu343726/wasm-symbols/pkg/symbols"
	"github.com/Manu343726/wasm-symbols/pkg/wir"
)

// DWARF expression opcodes (DWARF v4 §7.7.1, plus the WebAssembly vendor
// extension)
const (
	dwOpAddr       = 0x03
	dwOpDeref      = 0x06
	dwOpConst1u    = 0x08
	dwOpConst1s    = 0x09
	dwOpConst2u    = 0x0a
	dwOpConst2s    = 0x0b
	dwOpConst4u    = 0x0c
	dwOpConst4s    = 0x0d
	dwOpConst8u    = 0x0e
	dwOpConst8s    = 0x0f
	dwOpConstu     = 0x10
	dwOpConsts     = 0x11
	dwOpDup        = 0x12
	dwOpDrop       = 0x13
	dwOpOver       = 0x14
	dwOpPick       = 0x15
	dwOpSwap       = 0x16
	dwOpRot        = 0x17
	dwOpAnd        = 0x1a
	dwOpDiv        = 0x1b
	dwOpMinus      = 0x1c
	dwOpMod        = 0x1d
	dwOpMul        = 0x1e
	dwOpNeg        = 0x1f
	dwOpNot        = 0x20
	dwOpOr         = 0x21
	dwOpPlus       = 0x22
	dwOpPlusUconst = 0x23
	dwOpShl        = 0x24
	dwOpShr        = 0x25
	dwOpShra       = 0x26
	dwOpXor        = 0x27
	dwOpSkip       = 0x2f
	dwOpLit0       = 0x30
	dwOpLit1       = 0x31
	dwOpLit2       = 0x32
	dwOpLit3       = 0x33
	dwOpLit4       = 0x34
	dwOpLit5       = 0x35
	dwOpLit7       = 0x37
	dwOpLit31      = 0x4f
	dwOpReg0       = 0x50
	dwOpReg31      = 0x6f
	dwOpBreg0      = 0x70
	dwOpBreg31     = 0x8f
	dwOpRegx       = 0x90
	dwOpFbreg      = 0x91
	dwOpBregx      = 0x92
	dwOpPiece      = 0x93
	dwOpNop        = 0x96
	dwOpBitPiece   = 0x9d
	dwOpStackValue = 0x9f
	dwOpWasmLoc    = 0xed
)

// wasm location kinds carried by DW_OP_WASM_location
const (
	wasmLocLocal   = 0
	wasmLocGlobal  = 1
	wasmLocOperand = 2
)

func opcodeName(op byte) string {
	switch {
	case op >= dwOpLit0 && op <= dwOpLit31:
		return fmt.Sprintf("DW_OP_lit%d", op-dwOpLit0)
	case op >= dwOpReg0 && op <= dwOpReg31:
		return fmt.Sprintf("DW_OP_reg%d", op-dwOpReg0)
	case op >= dwOpBreg0 && op <= dwOpBreg31:
		return fmt.Sprintf("DW_OP_breg%d", op-dwOpBreg0)
	}
	names := map[byte]string{
		dwOpAddr: "DW_OP_addr", dwOpDeref: "DW_OP_deref",
		dwOpConst1u: "DW_OP_const1u", dwOpConst1s: "DW_OP_const1s",
		dwOpConst2u: "DW_OP_const2u", dwOpConst2s: "DW_OP_const2s",
		dwOpConst4u: "DW_OP_const4u", dwOpConst4s: "DW_OP_const4s",
		dwOpConst8u: "DW_OP_const8u", dwOpConst8s: "DW_OP_const8s",
		dwOpConstu: "DW_OP_constu", dwOpConsts: "DW_OP_consts",
		dwOpDup: "DW_OP_dup", dwOpDrop: "DW_OP_drop", dwOpOver: "DW_OP_over",
		dwOpPick: "DW_OP_pick", dwOpSwap: "DW_OP_swap", dwOpRot: "DW_OP_rot",
		dwOpAnd: "DW_OP_and", dwOpDiv: "DW_OP_div", dwOpMinus: "DW_OP_minus",
		dwOpMod: "DW_OP_mod", dwOpMul: "DW_OP_mul", dwOpNeg: "DW_OP_neg",
		dwOpNot: "DW_OP_not", dwOpOr: "DW_OP_or", dwOpPlus: "DW_OP_plus",
		dwOpPlusUconst: "DW_OP_plus_uconst", dwOpShl: "DW_OP_shl",
		dwOpShr: "DW_OP_shr", dwOpShra: "DW_OP_shra", dwOpXor: "DW_OP_xor",
		dwOpSkip: "DW_OP_skip", dwOpRegx: "DW_OP_regx", dwOpFbreg: "DW_OP_fbreg",
		dwOpBregx: "DW_OP_bregx", dwOpPiece: "DW_OP_piece", dwOpNop: "DW_OP_nop",
		dwOpBitPiece: "DW_OP_bit_piece", dwOpStackValue: "DW_OP_stack_value",
		dwOpWasmLoc: "DW_OP_WASM_location",
	}
	if name, ok := names[op]; ok {
		return name
	}
	return fmt.Sprintf("DW_OP_0x%02x", op)
}

func errNotImplemented() error {
	return fmt.Errorf("opcode not implemented")
}

func errNotWasmCompatible() error {
	return fmt.Errorf("opcode is not supported for WebAssembly")
}

// locationCompiler holds the state of one expression compilation
type locationCompiler struct {
	b         *wir.Builder
	getMemory string
	getLocal  string
	fn        *symbols.Function

	expr   []byte
	offset int

	stack   []wir.Value
	scratch map[wir.Type]wir.Value
}

// CompileLocation compiles a DWARF location expression into IR appended
// through the builder, yielding the variable's address. getMemory and
// getLocal name the debugger callbacks; fn is the containing function used
// to resolve DW_OP_fbreg, nil for variables without a frame.
func CompileLocation(b *wir.Builder, getMemory, getLocal string, fn *symbols.Function, expr []byte) (wir.Value, error) {
	c := &locationCompiler{
		b:         b,
		getMemory: getMemory,
		getLocal:  getLocal,
		fn:        fn,
		expr:      expr,
		scratch:   map[wir.Type]wir.Value{},
	}
	return c.consumeOpcodes()
}

func (c *locationCompiler) consumeOpcodes() (wir.Value, error) {
	for c.offset >= 0 && c.offset < len(c.expr) {
		op := c.expr[c.offset]
		c.offset++
		if err := c.parseOpcode(op); err != nil {
			return wir.Value{}, fmt.Errorf("failed to parse location opcode '%s': %w", opcodeName(op), err)
		}
	}
	if len(c.stack) == 0 {
		return wir.Value{}, fmt.Errorf("location expression left an empty stack")
	}
	return c.pop(), nil
}

func (c *locationCompiler) parseOpcode(op byte) error {
	switch {
	case op >= dwOpLit0 && op <= dwOpLit31:
		return c.parseLit(op - dwOpLit0)
	case op >= dwOpReg0 && op <= dwOpReg31, op == dwOpRegx,
		op >= dwOpBreg0 && op <= dwOpBreg31, op == dwOpBregx,
		op == dwOpPiece, op == dwOpBitPiece:
		// no registers (and no partial values) in wasm
		return errNotWasmCompatible()
	}

	switch op {
	case dwOpAddr:
		return c.parseAddr()
	case dwOpDeref:
		return c.parseDeref()
	case dwOpConst1u:
		return c.parseConst(false, 1)
	case dwOpConst1s:
		return c.parseConst(true, 1)
	case dwOpConst2u:
		return c.parseConst(false, 2)
	case dwOpConst2s:
		return c.parseConst(true, 2)
	case dwOpConst4u:
		return c.parseConst(false, 4)
	case dwOpConst4s:
		return c.parseConst(true, 4)
	case dwOpConst8u:
		return c.parseConst(false, 8)
	case dwOpConst8s:
		return c.parseConst(true, 8)
	case dwOpConstu:
		return c.parseConst(false, 0)
	case dwOpConsts:
		return c.parseConst(true, 0)
	case dwOpDup:
		return c.parseDup()
	case dwOpDrop:
		return c.parseDrop()
	case dwOpOver:
		return c.parseOver()
	case dwOpPick:
		return c.parsePick()
	case dwOpSwap:
		return c.parseSwap()
	case dwOpRot:
		return c.parseRot()
	case dwOpAnd:
		return c.parseBinary(op, wir.OpAnd)
	case dwOpDiv:
		return c.parseBinary(op, wir.OpDivS)
	case dwOpMinus:
		return c.parseBinary(op, wir.OpSub)
	case dwOpMod:
		return c.parseBinary(op, wir.OpRemS)
	case dwOpMul:
		return c.parseBinary(op, wir.OpMul)
	case dwOpNeg:
		return c.parseNeg()
	case dwOpNot:
		// matches the reference behavior: arithmetic, not bitwise
		return c.parseNeg()
	case dwOpOr:
		return c.parseBinary(op, wir.OpOr)
	case dwOpPlus:
		return c.parseBinary(op, wir.OpAdd)
	case dwOpPlusUconst:
		return c.parsePlusUconst()
	case dwOpShl:
		return c.parseBinary(op, wir.OpShl)
	case dwOpShr:
		return c.parseBinary(op, wir.OpShrU)
	case dwOpShra:
		return c.parseBinary(op, wir.OpShrS)
	case dwOpXor:
		return c.parseBinary(op, wir.OpXor)
	case dwOpSkip:
		return c.parseSkip()
	case dwOpFbreg:
		return c.parseFbreg()
	case dwOpNop, dwOpStackValue:
		return nil
	case dwOpWasmLoc:
		return c.parseWasmLocation()
	default:
		return errNotImplemented()
	}
}

// stack helpers

func (c *locationCompiler) checkStack(op byte, depth int) error {
	if len(c.stack) < depth {
		return fmt.Errorf("expression stack needs at least %d items for DWARF opcode %s", depth, opcodeName(op))
	}
	return nil
}

func (c *locationCompiler) push(v wir.Value) {
	c.stack = append(c.stack, v)
}

func (c *locationCompiler) pop() wir.Value {
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return v
}

// cursor helpers

func (c *locationCompiler) take(n int) ([]byte, error) {
	if c.offset < 0 || c.offset+n > len(c.expr) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	chunk := c.expr[c.offset : c.offset+n]
	c.offset += n
	return chunk, nil
}

func (c *locationCompiler) readULEB() (uint64, error) {
	if c.offset < 0 || c.offset >= len(c.expr) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	v, n := symbols.DecodeULEB128(c.expr[c.offset:])
	if n == 0 {
		return 0, fmt.Errorf("truncated LEB128 value")
	}
	c.offset += n
	return v, nil
}

func (c *locationCompiler) readSLEB() (int64, error) {
	if c.offset < 0 || c.offset >= len(c.expr) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	v, n := symbols.DecodeSLEB128(c.expr[c.offset:])
	if n == 0 {
		return 0, fmt.Errorf("truncated LEB128 value")
	}
	c.offset += n
	return v, nil
}

// opcode implementations

func (c *locationCompiler) parseAddr() error {
	// wasm32 addresses are 4 bytes
	raw, err := c.take(4)
	if err != nil {
		return err
	}
	address := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	c.push(c.b.ConstI32(address))
	return nil
}

func (c *locationCompiler) parseDeref() error {
	if err := c.checkStack(dwOpDeref, 1); err != nil {
		return err
	}
	address := c.pop()
	c.push(c.loadFromMemory(address, wir.I32))
	return nil
}

func (c *locationCompiler) parseConst(signed bool, width int) error {
	if width == 0 {
		if signed {
			v, err := c.readSLEB()
			if err != nil {
				return err
			}
			c.push(c.b.Const(wir.I64, v))
			return nil
		}
		v, err := c.readULEB()
		if err != nil {
			return err
		}
		c.push(c.b.Const(wir.I64, int64(v)))
		return nil
	}

	raw, err := c.take(width)
	if err != nil {
		return err
	}
	var v uint64
	for i, b := range raw {
		v |= uint64(b) << (8 * uint(i))
	}
	var typ wir.Type
	var num int64
	switch width {
	case 1:
		typ = wir.I8
		if signed {
			num = int64(int8(v))
		} else {
			num = int64(uint8(v))
		}
	case 2:
		typ = wir.I16
		if signed {
			num = int64(int16(v))
		} else {
			num = int64(uint16(v))
		}
	case 4:
		typ = wir.I32
		if signed {
			num = int64(int32(v))
		} else {
			num = int64(uint32(v))
		}
	default:
		typ = wir.I64
		num = int64(v)
	}
	c.push(c.b.Const(typ, num))
	return nil
}

func (c *locationCompiler) parseLit(lit byte) error {
	c.push(c.b.ConstI32(uint32(lit)))
	return nil
}

func (c *locationCompiler) parseDup() error {
	if err := c.checkStack(dwOpDup, 1); err != nil {
		return err
	}
	c.push(c.stack[len(c.stack)-1])
	return nil
}

func (c *locationCompiler) parseDrop() error {
	if err := c.checkStack(dwOpDrop, 1); err != nil {
		return err
	}
	c.pop()
	return nil
}

func (c *locationCompiler) parseOver() error {
	if err := c.checkStack(dwOpOver, 2); err != nil {
		return err
	}
	c.push(c.stack[len(c.stack)-2])
	return nil
}

func (c *locationCompiler) parsePick() error {
	idx, err := c.take(1)
	if err != nil {
		return err
	}
	if err := c.checkStack(dwOpPick, int(idx[0])+1); err != nil {
		return err
	}
	c.push(c.stack[len(c.stack)-1-int(idx[0])])
	return nil
}

func (c *locationCompiler) parseSwap() error {
	if err := c.checkStack(dwOpSwap, 2); err != nil {
		return err
	}
	n := len(c.stack)
	c.stack[n-1], c.stack[n-2] = c.stack[n-2], c.stack[n-1]
	return nil
}

func (c *locationCompiler) parseRot() error {
	if err := c.checkStack(dwOpRot, 3); err != nil {
		return err
	}
	n := len(c.stack)
	c.stack[n-1], c.stack[n-3] = c.stack[n-3], c.stack[n-1]
	c.stack[n-1], c.stack[n-2] = c.stack[n-2], c.stack[n-1]
	return nil
}

// parseBinary pops top and second and pushes second OP top, casting the
// right operand (sign-extending when widened) to the left operand's type
// when the expression mixed constant sizes
func (c *locationCompiler) parseBinary(op byte, irOp wir.Op) error {
	if err := c.checkStack(op, 2); err != nil {
		return err
	}
	top := c.pop()
	second := c.pop()
	top = c.b.Cast(top, second.Type(), true)
	c.push(c.b.Binary(irOp, second, top))
	return nil
}

func (c *locationCompiler) parseNeg() error {
	if err := c.checkStack(dwOpNeg, 1); err != nil {
		return err
	}
	c.push(c.b.Neg(c.pop()))
	return nil
}

func (c *locationCompiler) parsePlusUconst() error {
	if err := c.checkStack(dwOpPlusUconst, 1); err != nil {
		return err
	}
	k, err := c.readULEB()
	if err != nil {
		return err
	}
	v := c.pop()
	constant := c.b.Cast(c.b.Const(wir.I64, int64(k)), v.Type(), false)
	c.push(c.b.Add(v, constant))
	return nil
}

func (c *locationCompiler) parseSkip() error {
	raw, err := c.take(2)
	if err != nil {
		return err
	}
	delta := int16(uint16(raw[0]) | uint16(raw[1])<<8)
	c.offset += int(delta)
	return nil
}

func (c *locationCompiler) parseFbreg() error {
	if c.fn == nil || len(c.fn.FrameBase) == 0 {
		return fmt.Errorf("empty frame base")
	}
	frameBase, err := CompileLocation(c.b, c.getMemory, c.getLocal, c.fn, c.fn.FrameBase)
	if err != nil {
		return err
	}
	offset, err := c.readSLEB()
	if err != nil {
		return err
	}
	constant := c.b.Cast(c.b.Const(wir.I32, offset), frameBase.Type(), true)
	c.push(c.b.Add(frameBase, constant))
	return nil
}

func (c *locationCompiler) parseWasmLocation() error {
	memType, err := c.readULEB()
	if err != nil {
		return err
	}
	index, err := c.readULEB()
	if err != nil {
		return err
	}
	switch memType {
	case wasmLocLocal:
		c.push(c.loadFromLocal(c.b.ConstI32(uint32(index)), wir.I32))
		return nil
	case wasmLocGlobal, wasmLocOperand:
		return fmt.Errorf("unimplemented wasm location type %d", memType)
	default:
		return fmt.Errorf("unknown wasm location type %d", memType)
	}
}

// scratch slot and callback load helpers

func (c *locationCompiler) scratchpad(t wir.Type) wir.Value {
	if slot, ok := c.scratch[t]; ok {
		return slot
	}
	slot := c.b.Alloca(t)
	c.scratch[t] = slot
	return slot
}

func (c *locationCompiler) loadFromLocal(index wir.Value, t wir.Type) wir.Value {
	slot := c.scratchpad(t)
	c.b.Call(c.getLocal, wir.Void, index, slot)
	return c.b.Load(t, slot, true)
}

func (c *locationCompiler) loadFromMemory(address wir.Value, t wir.Type) wir.Value {
	slot := c.scratchpad(t)
	c.b.Call(c.getMemory, wir.Void, address, c.b.ConstI32(t.Size()), slot)
	return c.b.Load(t, slot, true)
}
