package formatter

// Runtime formatting primitives
//
// The equivalent of the precompiled formatter runtime the generated
// modules link against. Every primitive writes into a caller supplied
// window of the scratch pad and returns the number of bytes written
// excluding the terminating NUL, or -ENOSPC when the record did not fit.
//
// Emission uses a bounded cursor: pieces are appended while the window
// has room; once the cursor reaches the window limit the write is invalid
// and the final check fails, so partial records never count as success.
// Successful records always end with a NUL byte at the cursor.
//
// ABI (all results i32):
//
//   get_scratch_pad_size(begin, end)            -> size or 0
//   format_begin_array(name, type, buf, size)   -> {"type":"T","name":"N","value":[
//   format_end_array(buf, size)                 -> ]}
//   format_sep(buf, size)                       -> ,
//   format_int64_t/int32_t/int/int8_t(p, n, buf, size)
//   format_string(pp, n, buf, size)             -> via __getMemory, byte by byte

import (
	"github.com/Manu343726/wasm-symbols/pkg/wir"
)

// enospc is the errno value reported on output window overflow
const enospc = 28

// negErrno returns the negated errno value as an int32, computed at
// runtime so the negative-to-uint32 conversion at call sites isn't
// rejected as a constant overflow.
func negErrno(errno int32) int32 {
	return -errno
}

// callback and helper symbol names
const (
	callbackGetMemory = "__getMemory"
	callbackGetLocal  = "__getLocal"
	callbackSbrk      = "sbrk"

	fnScratchPadSize = "get_scratch_pad_size"
	fnBeginArray     = "format_begin_array"
	fnEndArray       = "format_end_array"
	fnSep            = "format_sep"

	fnWriteChars  = "write_chars"
	fnWriteInt    = "write_int"
	fnWriteString = "write_string"
)

// BuildRuntimeModule constructs the runtime formatter module
func BuildRuntimeModule() *wir.Module {
	m := wir.NewModule("formatters")
	buildScratchPadSize(m)
	buildWriteChars(m)
	buildWriteInt(m)
	buildWriteString(m)
	buildBeginArray(m)
	buildEndArray(m)
	buildSep(m)
	buildIntFormatter(m, "format_int64_t", "int64_t", wir.I64)
	buildIntFormatter(m, "format_int32_t", "int32_t", wir.I32)
	buildIntFormatter(m, "format_int", "int32_t", wir.I32)
	buildIntFormatter(m, "format_int8_t", "int8_t", wir.I8)
	buildStringFormatter(m)
	return m
}

// get_scratch_pad_size(begin, end): the usable window between the heap
// base and the current program break; 0 when sbrk failed or the window is
// inverted
func buildScratchPadSize(m *wir.Module) {
	f := m.NewFunc(fnScratchPadSize, wir.I32, wir.Ptr, wir.Ptr)
	b := f.Builder()
	begin, end := b.Param(0), b.Param(1)

	inverted := b.Binary(wir.OpGeU, begin, end)
	failed := b.Binary(wir.OpEq, end, b.Const(wir.Ptr, -1))
	b.If(b.Or(inverted, failed), func() {
		b.Ret(b.ConstI32(0))
	}, nil)
	b.Ret(b.Sub(end, begin))
}

// write_chars(dst, limit, src): copy the NUL-terminated string at src in
// module memory into [dst, limit), returning the new cursor. The cursor
// parks at limit when the window runs out.
func buildWriteChars(m *wir.Module) {
	f := m.NewFunc(fnWriteChars, wir.I32, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	limit := b.Param(1)
	dst := b.NewVar(b.Param(0))
	src := b.NewVar(b.Param(2))

	b.Loop(func() {
		ch := b.Load(wir.I8, src.Get(), false)
		b.If(b.Binary(wir.OpEq, ch, b.ConstI32(0)), func() {
			b.Break()
		}, nil)
		b.If(b.Binary(wir.OpGeU, dst.Get(), limit), func() {
			b.Break()
		}, nil)
		b.Store(wir.I8, dst.Get(), ch)
		dst.Set(b.Add(dst.Get(), b.ConstI32(1)))
		src.Set(b.Add(src.Get(), b.ConstI32(1)))
	})
	b.Ret(dst.Get())
}

// write_int(dst, limit, value): base-10 render of a signed 64-bit value.
// Digits are emitted least significant first and the span reversed at the
// end, the sign included; overflow parks the cursor at limit.
func buildWriteInt(m *wir.Module) {
	f := m.NewFunc(fnWriteInt, wir.I32, wir.I32, wir.I32, wir.I64)
	b := f.Builder()
	limit := b.Param(1)
	dst := b.NewVar(b.Param(0))
	val := b.NewVar(b.Param(2))
	zero64 := b.Const(wir.I64, 0)

	b.If(b.Binary(wir.OpEq, val.Get(), zero64), func() {
		b.If(b.Binary(wir.OpGeU, dst.Get(), limit), func() {
			b.Ret(limit)
		}, nil)
		b.Store(wir.I8, dst.Get(), b.ConstI32('0'))
		b.Ret(b.Add(dst.Get(), b.ConstI32(1)))
	}, nil)

	negative := b.Binary(wir.OpLtS, val.Get(), zero64)
	// snapshot of the digit span start; dst keeps moving
	start := b.NewVar(dst.Get()).Get()

	b.Loop(func() {
		b.If(b.Binary(wir.OpEq, val.Get(), zero64), func() {
			b.Break()
		}, nil)
		b.If(b.Binary(wir.OpGeU, dst.Get(), limit), func() {
			b.Break()
		}, nil)
		digit := b.NewVar(b.RemS(val.Get(), b.Const(wir.I64, 10)))
		b.If(b.Binary(wir.OpLtS, digit.Get(), zero64), func() {
			digit.Set(b.Neg(digit.Get()))
		}, nil)
		b.Store(wir.I8, dst.Get(), b.Add(b.Cast(digit.Get(), wir.I32, false), b.ConstI32('0')))
		dst.Set(b.Add(dst.Get(), b.ConstI32(1)))
		val.Set(b.DivS(val.Get(), b.Const(wir.I64, 10)))
	})

	// digits left over mean the window was too small
	b.If(b.Binary(wir.OpNe, val.Get(), zero64), func() {
		b.Ret(limit)
	}, nil)
	b.If(negative, func() {
		b.If(b.Binary(wir.OpGeU, dst.Get(), limit), func() {
			b.Ret(limit)
		}, nil)
		b.Store(wir.I8, dst.Get(), b.ConstI32('-'))
		dst.Set(b.Add(dst.Get(), b.ConstI32(1)))
	}, nil)

	// reverse [start, dst)
	lo := b.NewVar(start)
	hi := b.NewVar(b.Sub(dst.Get(), b.ConstI32(1)))
	b.Loop(func() {
		b.If(b.Binary(wir.OpGeU, lo.Get(), hi.Get()), func() {
			b.Break()
		}, nil)
		a := b.Load(wir.I8, lo.Get(), false)
		z := b.Load(wir.I8, hi.Get(), false)
		b.Store(wir.I8, lo.Get(), z)
		b.Store(wir.I8, hi.Get(), a)
		lo.Set(b.Add(lo.Get(), b.ConstI32(1)))
		hi.Set(b.Sub(hi.Get(), b.ConstI32(1)))
	})
	b.Ret(dst.Get())
}

// write_string(dst, limit, addr): copy the NUL-terminated string at addr
// in the debuggee's memory, one byte at a time through __getMemory. The
// byte lands directly in the output window; NUL stops the copy without
// advancing.
func buildWriteString(m *wir.Module) {
	f := m.NewFunc(fnWriteString, wir.I32, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	limit := b.Param(1)
	dst := b.NewVar(b.Param(0))
	addr := b.NewVar(b.Param(2))

	b.Loop(func() {
		b.If(b.Binary(wir.OpGeU, dst.Get(), limit), func() {
			b.Ret(limit)
		}, nil)
		b.Call(callbackGetMemory, wir.Void, addr.Get(), b.ConstI32(1), dst.Get())
		ch := b.Load(wir.I8, dst.Get(), false)
		b.If(b.Binary(wir.OpEq, ch, b.ConstI32(0)), func() {
			b.Break()
		}, nil)
		dst.Set(b.Add(dst.Get(), b.ConstI32(1)))
		addr.Set(b.Add(addr.Get(), b.ConstI32(1)))
	})
	b.Ret(dst.Get())
}

// record terminator: NUL at the cursor when the window still has room,
// -ENOSPC otherwise
func finishRecord(b *wir.Builder, buf, limit wir.Value, dst *wir.Var) {
	b.If(b.Binary(wir.OpLtU, dst.Get(), limit), func() {
		b.Store(wir.I8, dst.Get(), b.ConstI32(0))
		b.Ret(b.Sub(dst.Get(), buf))
	}, nil)
	b.Ret(b.ConstI32(uint32(negErrno(enospc))))
}

func writeLiteral(b *wir.Builder, dst *wir.Var, limit wir.Value, literal string) {
	dst.Set(b.Call(fnWriteChars, wir.I32, dst.Get(), limit, b.StringPtr(literal)))
}

func writeChars(b *wir.Builder, dst *wir.Var, limit, src wir.Value) {
	dst.Set(b.Call(fnWriteChars, wir.I32, dst.Get(), limit, src))
}

func buildBeginArray(m *wir.Module) {
	f := m.NewFunc(fnBeginArray, wir.I32, wir.I32, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	name, typeName, buf, size := b.Param(0), b.Param(1), b.Param(2), b.Param(3)
	limit := b.Add(buf, size)
	dst := b.NewVar(buf)

	writeLiteral(b, dst, limit, `{"type":"`)
	writeChars(b, dst, limit, typeName)
	writeLiteral(b, dst, limit, `","name":"`)
	writeChars(b, dst, limit, name)
	writeLiteral(b, dst, limit, `","value":[`)
	finishRecord(b, buf, limit, dst)
}

func buildEndArray(m *wir.Module) {
	f := m.NewFunc(fnEndArray, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	buf, size := b.Param(0), b.Param(1)
	limit := b.Add(buf, size)
	dst := b.NewVar(buf)

	writeLiteral(b, dst, limit, `]}`)
	finishRecord(b, buf, limit, dst)
}

func buildSep(m *wir.Module) {
	f := m.NewFunc(fnSep, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	buf, size := b.Param(0), b.Param(1)
	limit := b.Add(buf, size)
	dst := b.NewVar(buf)

	writeLiteral(b, dst, limit, `,`)
	finishRecord(b, buf, limit, dst)
}

// buildIntFormatter emits format_<fname>(value*, name, buf, size). The
// rendered type string follows the runtime's typename table, which is why
// format_int reports int32_t.
func buildIntFormatter(m *wir.Module, fname, typeName string, valType wir.Type) {
	f := m.NewFunc(fname, wir.I32, wir.I32, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	valPtr, name, buf, size := b.Param(0), b.Param(1), b.Param(2), b.Param(3)

	b.If(b.Binary(wir.OpLtU, size, b.ConstI32(2)), func() {
		b.Ret(b.ConstI32(uint32(negErrno(enospc))))
	}, nil)

	limit := b.Add(buf, size)
	dst := b.NewVar(buf)
	writeLiteral(b, dst, limit, `{"type":"`+typeName+`","name":"`)
	writeChars(b, dst, limit, name)
	writeLiteral(b, dst, limit, `","value":"`)

	value := b.Cast(b.Load(valType, valPtr, true), wir.I64, true)
	dst.Set(b.Call(fnWriteInt, wir.I32, dst.Get(), limit, value))

	writeLiteral(b, dst, limit, `"}`)
	finishRecord(b, buf, limit, dst)
}

// format_string reads the char pointer out of the debuggee-provided slot,
// then streams the pointee through __getMemory
func buildStringFormatter(m *wir.Module) {
	f := m.NewFunc("format_string", wir.I32, wir.I32, wir.I32, wir.I32, wir.I32)
	b := f.Builder()
	valPtr, name, buf, size := b.Param(0), b.Param(1), b.Param(2), b.Param(3)

	b.If(b.Binary(wir.OpLtU, size, b.ConstI32(2)), func() {
		b.Ret(b.ConstI32(uint32(negErrno(enospc))))
	}, nil)

	limit := b.Add(buf, size)
	dst := b.NewVar(buf)
	writeLiteral(b, dst, limit, `{"type":"const char *","name":"`)
	writeChars(b, dst, limit, name)
	writeLiteral(b, dst, limit, `","value":"`)

	address := b.Load(wir.I32, valPtr, false)
	dst.Set(b.Call(fnWriteString, wir.I32, dst.Get(), limit, address))

	writeLiteral(b, dst, limit, `"}`)
	finishRecord(b, buf, limit, dst)
}
