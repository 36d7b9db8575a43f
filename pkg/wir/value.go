package wir

import "fmt"

type valueKind uint8

const (
	valNone valueKind = iota
	valConst
	valLocal
	valSymbol
)

// Value is an opaque handle to an IR value. Values are produced by a Builder
// and are only meaningful within the function they were created in, except
// for constants and symbol addresses, which are position independent.
type Value struct {
	kind valueKind
	typ  Type
	num  int64  // constant payload or local index
	sym  string // data symbol name for valSymbol
}

// Type returns the IR type of the value
func (v Value) Type() Type {
	return v.typ
}

// IsValid reports whether the handle refers to an actual value
func (v Value) IsValid() bool {
	return v.kind != valNone
}

func (v Value) String() string {
	switch v.kind {
	case valConst:
		return fmt.Sprintf("%s %d", v.typ, v.num)
	case valLocal:
		return fmt.Sprintf("%s %%%d", v.typ, v.num)
	case valSymbol:
		return fmt.Sprintf("%s &%s", v.typ, v.sym)
	default:
		return "<none>"
	}
}

// Op identifies an IR operation
type Op uint8

const (
	OpMove Op = iota
	OpAdd
	OpSub
	OpMul
	OpDivS
	OpRemS
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGtS
	OpGtU
	OpGeS
	OpGeU
	OpLeU
	OpCast
	OpLoad
	OpCall
)

var opNames = map[Op]string{
	OpMove: "move", OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpDivS: "div_s", OpRemS: "rem_s", OpAnd: "and", OpOr: "or",
	OpXor: "xor", OpShl: "shl", OpShrS: "shr_s", OpShrU: "shr_u",
	OpEq: "eq", OpNe: "ne", OpLtS: "lt_s", OpLtU: "lt_u",
	OpGtS: "gt_s", OpGtU: "gt_u", OpGeS: "ge_s", OpGeU: "ge_u",
	OpLeU: "le_u", OpCast: "cast", OpLoad: "load", OpCall: "call",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// isPure reports whether the operation has no side effects and can be
// removed when its result is unused
func (o Op) isPure() bool {
	return o != OpCall && o != OpLoad
}

// Stmt is a single IR statement
type Stmt interface {
	isStmt()
}

// assignStmt computes a value into a local. For OpCall dst may be -1 when
// the result is discarded.
type assignStmt struct {
	dst    int
	op     Op
	typ    Type // result type
	args   []Value
	callee string // OpCall target
	signed bool   // OpLoad / OpCast signedness
}

// storeStmt writes val to linear memory at addr
type storeStmt struct {
	typ  Type
	addr Value
	val  Value
}

// retStmt returns from the function, with an optional value
type retStmt struct {
	val Value
}

// ifStmt runs then when cond is nonzero, els otherwise
type ifStmt struct {
	cond Value
	then []Stmt
	els  []Stmt
}

// loopStmt repeats body until a Break leaves it
type loopStmt struct {
	body []Stmt
}

// brStmt leaves (Break) or restarts (Continue) the innermost loop
type brStmt struct {
	cont bool
}

func (assignStmt) isStmt() {}
func (storeStmt) isStmt()  {}
func (retStmt) isStmt()    {}
func (ifStmt) isStmt()     {}
func (loopStmt) isStmt()   {}
func (brStmt) isStmt()     {}
