package wir

import "fmt"

// Builder appends statements to a function body. Obtain one with
// Func.Builder; nested control flow is expressed with the If and Loop
// callbacks, which redirect the insertion point for their duration.
type Builder struct {
	fn  *Func
	cur *[]Stmt
}

// Builder returns a builder positioned at the end of the function body
func (f *Func) Builder() *Builder {
	return &Builder{fn: f, cur: &f.body}
}

// Param returns the value of the i-th function parameter
func (b *Builder) Param(i int) Value {
	if i < 0 || i >= len(b.fn.Params) {
		panic(fmt.Sprintf("wir: function '%s' has no parameter %d", b.fn.Name, i))
	}
	return Value{kind: valLocal, typ: b.fn.Params[i], num: int64(i)}
}

// Const returns a typed integer constant
func (b *Builder) Const(t Type, v int64) Value {
	return Value{kind: valConst, typ: t, num: v}
}

// ConstI32 returns a 32-bit constant
func (b *Builder) ConstI32(v uint32) Value {
	return b.Const(I32, int64(int32(v)))
}

// StringPtr interns a NUL-terminated literal and returns its address
func (b *Builder) StringPtr(s string) Value {
	return b.fn.mod.StringConst(s)
}

// SymbolAddr returns the link-time address of a named symbol
func (b *Builder) SymbolAddr(name string) Value {
	return b.fn.mod.SymbolAddr(name)
}

// Alloca reserves a static scratch slot for a value of the given type and
// returns its address. The generated entry point runs once per instance,
// so static slots are equivalent to stack allocas here.
func (b *Builder) Alloca(t Type) Value {
	return b.fn.mod.ZeroRegion(t.Size())
}

func (b *Builder) newLocal(t Type) int {
	b.fn.locals = append(b.fn.locals, t)
	return len(b.fn.locals) - 1
}

func (b *Builder) push(s Stmt) {
	*b.cur = append(*b.cur, s)
}

func (b *Builder) assign(op Op, t Type, callee string, signed bool, args ...Value) Value {
	dst := b.newLocal(t)
	b.push(assignStmt{dst: dst, op: op, typ: t, args: args, callee: callee, signed: signed})
	return Value{kind: valLocal, typ: t, num: int64(dst)}
}

// Binary applies a binary operation. Both operands must have the same wasm
// width (both 64-bit or both held in 32-bit locals); the result has the
// left operand's type, except comparisons which are I32.
func (b *Builder) Binary(op Op, lhs, rhs Value) Value {
	if lhs.typ.wide() != rhs.typ.wide() {
		panic(fmt.Sprintf("wir: operand width mismatch in %s: %s vs %s", op, lhs.typ, rhs.typ))
	}
	t := lhs.typ
	switch op {
	case OpEq, OpNe, OpLtS, OpLtU, OpGtS, OpGtU, OpGeS, OpGeU, OpLeU:
		t = I32
	}
	return b.assign(op, t, "", false, lhs, rhs)
}

func (b *Builder) Add(lhs, rhs Value) Value  { return b.Binary(OpAdd, lhs, rhs) }
func (b *Builder) Sub(lhs, rhs Value) Value  { return b.Binary(OpSub, lhs, rhs) }
func (b *Builder) Mul(lhs, rhs Value) Value  { return b.Binary(OpMul, lhs, rhs) }
func (b *Builder) DivS(lhs, rhs Value) Value { return b.Binary(OpDivS, lhs, rhs) }
func (b *Builder) RemS(lhs, rhs Value) Value { return b.Binary(OpRemS, lhs, rhs) }
func (b *Builder) And(lhs, rhs Value) Value  { return b.Binary(OpAnd, lhs, rhs) }
func (b *Builder) Or(lhs, rhs Value) Value   { return b.Binary(OpOr, lhs, rhs) }
func (b *Builder) Xor(lhs, rhs Value) Value  { return b.Binary(OpXor, lhs, rhs) }
func (b *Builder) Shl(lhs, rhs Value) Value  { return b.Binary(OpShl, lhs, rhs) }
func (b *Builder) ShrS(lhs, rhs Value) Value { return b.Binary(OpShrS, lhs, rhs) }
func (b *Builder) ShrU(lhs, rhs Value) Value { return b.Binary(OpShrU, lhs, rhs) }

// Neg returns 0 - v
func (b *Builder) Neg(v Value) Value {
	return b.Sub(b.Const(v.typ, 0), v)
}

// Cast converts a value to another integer type. Narrowing wraps; widening
// follows the signedness flag.
func (b *Builder) Cast(v Value, to Type, signed bool) Value {
	if v.typ == to {
		return v
	}
	return b.assign(OpCast, to, "", signed, v)
}

// Load reads a value of type t from linear memory. Sub-word loads extend
// per the signedness flag.
func (b *Builder) Load(t Type, addr Value, signed bool) Value {
	return b.assign(OpLoad, t, "", signed, addr)
}

// Store writes a value of type t to linear memory
func (b *Builder) Store(t Type, addr, val Value) {
	b.push(storeStmt{typ: t, addr: addr, val: val})
}

// Call emits a call by symbol name. The result type and argument types
// double as the import signature when the callee stays undefined after
// linking. Void calls return an invalid Value.
func (b *Builder) Call(name string, result Type, args ...Value) Value {
	if result == Void {
		b.push(assignStmt{dst: -1, op: OpCall, typ: Void, args: args, callee: name})
		return Value{}
	}
	return b.assign(OpCall, result, name, false, args...)
}

// Ret returns a value from the function
func (b *Builder) Ret(v Value) {
	b.push(retStmt{val: v})
}

// RetVoid returns from a void function
func (b *Builder) RetVoid() {
	b.push(retStmt{})
}

// If runs then when cond is nonzero. els may be nil.
func (b *Builder) If(cond Value, then func(), els func()) {
	s := ifStmt{cond: cond}
	prev := b.cur
	b.cur = &s.then
	then()
	if els != nil {
		b.cur = &s.els
		els()
	}
	b.cur = prev
	b.push(s)
}

// Loop emits an infinite loop around body; leave it with Break. Continue
// restarts the innermost loop.
func (b *Builder) Loop(body func()) {
	s := loopStmt{}
	prev := b.cur
	b.cur = &s.body
	body()
	b.cur = prev
	b.push(s)
}

// Break leaves the innermost enclosing loop
func (b *Builder) Break() {
	b.push(brStmt{})
}

// Continue restarts the innermost enclosing loop
func (b *Builder) Continue() {
	b.push(brStmt{cont: true})
}

// Var is a mutable slot backed by a wasm local, for values that change
// across loop iterations
type Var struct {
	b     *Builder
	typ   Type
	local int
}

// NewVar declares a mutable variable initialized to init
func (b *Builder) NewVar(init Value) *Var {
	v := &Var{b: b, typ: init.typ, local: b.newLocal(init.typ)}
	v.Set(init)
	return v
}

// Get returns the current value of the variable
func (v *Var) Get() Value {
	return Value{kind: valLocal, typ: v.typ, num: int64(v.local)}
}

// Set assigns a new value to the variable
func (v *Var) Set(val Value) {
	if val.typ.wide() != v.typ.wide() {
		panic(fmt.Sprintf("wir: cannot assign %s to %s var", val.typ, v.typ))
	}
	v.b.push(assignStmt{dst: v.local, op: OpMove, typ: v.typ, args: []Value{val}})
}
