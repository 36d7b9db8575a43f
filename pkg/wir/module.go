package wir

import (
	"fmt"
)

// DataSymbol is a named chunk of static linear memory. Symbols with Bytes
// are emitted as active data segments; symbols without are zero regions
// that only reserve address space (wasm memory is zero initialized).
type DataSymbol struct {
	Name  string
	Bytes []byte
	Size  uint32
}

// Module is a collection of functions and data symbols. Modules are built
// by Builders, merged by Link and lowered to binary by Encode.
type Module struct {
	Name string

	funcs     []*Func
	funcIndex map[string]*Func

	symbols   []*DataSymbol
	symIndex  map[string]*DataSymbol
	stringIds map[string]string // literal content -> symbol name
	nextSym   int
}

// NewModule creates an empty module. The name namespaces the module's data
// symbols so that linking never collides.
func NewModule(name string) *Module {
	return &Module{
		Name:      name,
		funcIndex: map[string]*Func{},
		symIndex:  map[string]*DataSymbol{},
		stringIds: map[string]string{},
	}
}

// NewFunc declares a function defined in this module and returns it. Param
// values are available through Builder.Param.
func (m *Module) NewFunc(name string, result Type, params ...Type) *Func {
	if _, exists := m.funcIndex[name]; exists {
		panic(fmt.Sprintf("wir: function '%s' redefined in module '%s'", name, m.Name))
	}
	f := &Func{
		Name:   name,
		Params: params,
		Result: result,
		mod:    m,
		locals: append([]Type{}, params...),
	}
	m.funcs = append(m.funcs, f)
	m.funcIndex[name] = f
	return f
}

// Func returns the defined function with the given name, or nil
func (m *Module) Func(name string) *Func {
	return m.funcIndex[name]
}

// Funcs returns the functions defined in this module, in definition order
func (m *Module) Funcs() []*Func {
	return m.funcs
}

// StringConst interns a NUL-terminated string literal in the module's data
// and returns its address
func (m *Module) StringConst(s string) Value {
	if name, ok := m.stringIds[s]; ok {
		return Value{kind: valSymbol, typ: Ptr, sym: name}
	}
	name := fmt.Sprintf("%s.str.%d", m.Name, m.nextSym)
	m.nextSym++
	m.stringIds[s] = name
	m.addSymbol(&DataSymbol{Name: name, Bytes: append([]byte(s), 0), Size: uint32(len(s)) + 1})
	return Value{kind: valSymbol, typ: Ptr, sym: name}
}

// ZeroRegion reserves size bytes of zero-initialized static memory and
// returns its address. Used for the scratch slots the generated code hands
// to the debugger callbacks.
func (m *Module) ZeroRegion(size uint32) Value {
	name := fmt.Sprintf("%s.bss.%d", m.Name, m.nextSym)
	m.nextSym++
	m.addSymbol(&DataSymbol{Name: name, Size: size})
	return Value{kind: valSymbol, typ: Ptr, sym: name}
}

// SymbolAddr returns the address of a named symbol resolved at link time.
// The symbol does not have to exist in this module; __heap_base in
// particular is defined by the linker itself.
func (m *Module) SymbolAddr(name string) Value {
	return Value{kind: valSymbol, typ: Ptr, sym: name}
}

func (m *Module) addSymbol(s *DataSymbol) {
	if _, exists := m.symIndex[s.Name]; exists {
		panic(fmt.Sprintf("wir: data symbol '%s' redefined in module '%s'", s.Name, m.Name))
	}
	m.symbols = append(m.symbols, s)
	m.symIndex[s.Name] = s
}

// Func is a function under construction or ready for encoding
type Func struct {
	Name     string
	Params   []Type
	Result   Type
	Exported bool

	mod    *Module
	locals []Type
	body   []Stmt
}

// Export marks the function for export from the final wasm module
func (f *Func) Export() *Func {
	f.Exported = true
	return f
}

// Module returns the module the function is defined in
func (f *Func) Module() *Module {
	return f.mod
}
