package formatter

// Variable Printer
//
// Synthesizes the IR module behind an evaluateVariable response. The
// module's single exported function wasm_format() walks one variable:
// it resolves the scratch pad window, compiles the variable's DWARF
// location expression to an address, then recurses over the variable's
// type emitting calls to the runtime formatting primitives. Every
// primitive call is followed by a guard that turns a negative result into
// an early null return, and on success advances the output window by the
// returned count.

import (
	"fmt"

	"github.com/Manu343726/wasm-symbols/pkg/symbols"
	"github.com/Manu343726/wasm-symbols/pkg/wir"
)

// AddressSpace tags where a value lives in the debuggee
type AddressSpace int

const (
	// SpaceMemory is linear memory; the only space the formatter
	// recursion reads from
	SpaceMemory AddressSpace = iota
	// SpaceLocal is a wasm local; appears transiently while compiling
	// DW_OP_WASM_location
	SpaceLocal
	// SpaceGlobal is a wasm global
	SpaceGlobal
)

// MemoryLocation is a typed address in the debuggee
type MemoryLocation struct {
	Space    AddressSpace
	Offset   wir.Value
	TypeName string
}

// primitiveFormatter binds a qualified type name to its runtime entry
// point and the loaded value width
type primitiveFormatter struct {
	callee    string
	valueType wir.Type
}

// VariablePrinter generates variable formatter modules. One printer is
// shared process-wide; it owns the primitive formatter registry.
type VariablePrinter struct {
	primitives map[string]primitiveFormatter
}

// NewVariablePrinter creates a printer with the default primitive
// registry
func NewVariablePrinter() *VariablePrinter {
	return &VariablePrinter{
		primitives: map[string]primitiveFormatter{
			"int64_t":      {callee: "format_int64_t", valueType: wir.I64},
			"int32_t":      {callee: "format_int32_t", valueType: wir.I32},
			"int":          {callee: "format_int", valueType: wir.I32},
			"int8_t":       {callee: "format_int8_t", valueType: wir.I8},
			"const char *": {callee: "format_string", valueType: wir.I32},
		},
	}
}

// GenerateModule synthesizes the IR module formatting one variable
func (p *VariablePrinter) GenerateModule(name string, v *symbols.Variable) (*wir.Module, error) {
	m := wir.NewModule("wasm_eval")
	f := m.NewFunc("wasm_format", wir.Ptr).Export()
	b := f.Builder()

	begin := b.SymbolAddr("__heap_base")
	end := b.Call(callbackSbrk, wir.Ptr, b.ConstI32(0))
	size := b.Call(fnScratchPadSize, wir.I32, begin, end)

	result, err := CompileLocation(b, callbackGetMemory, callbackGetLocal, v.Fn, v.Location)
	if err != nil {
		return nil, err
	}

	location := MemoryLocation{
		Space:    SpaceMemory,
		Offset:   b.Cast(result, wir.I32, false),
		TypeName: v.TypeName,
	}
	if _, _, err := p.formatVariable(b, begin, size, name, v.Type, location); err != nil {
		return nil, err
	}

	b.Ret(begin)
	return m, nil
}

// callFormatter emits a call to a runtime primitive over the current
// output window, the early null return on error, and the window advance
func callFormatter(b *wir.Builder, callee string, buffer, size wir.Value, args ...wir.Value) (wir.Value, wir.Value) {
	written := b.Call(callee, wir.I32, append(args, buffer, size)...)
	b.If(b.Binary(wir.OpLtS, written, b.ConstI32(0)), func() {
		b.Ret(b.ConstI32(0))
	}, nil)
	return b.Add(buffer, written), b.Sub(size, written)
}

// readVarValue emits the read of one value out of the debuggee into a
// scratch slot and returns the slot address
func readVarValue(b *wir.Builder, location MemoryLocation, t wir.Type) (wir.Value, error) {
	switch location.Space {
	case SpaceMemory:
		slot := b.Alloca(t)
		b.Call(callbackGetMemory, wir.Void, location.Offset, b.ConstI32(t.Size()), slot)
		return slot, nil
	default:
		return wir.Value{}, fmt.Errorf("unimplemented wasm address space '%d'", location.Space)
	}
}

func (p *VariablePrinter) formatVariable(b *wir.Builder, buffer, size wir.Value, name string, t *symbols.TypeInfo, location MemoryLocation) (wir.Value, wir.Value, error) {
	if t == nil {
		return wir.Value{}, wir.Value{}, fmt.Errorf("variable '%s' has no type information", name)
	}
	switch t.Kind {
	case symbols.KindScalar, symbols.KindPointer:
		return p.formatPrimitive(b, buffer, size, name, t, location)
	case symbols.KindArray:
		return p.formatArray(b, buffer, size, name, t.Elem, location, t.Count, t.Incomplete)
	case symbols.KindAggregate:
		return p.formatAggregate(b, buffer, size, name, t, location)
	default:
		return wir.Value{}, wir.Value{}, fmt.Errorf("unhandled type category for type '%s'", t.Name)
	}
}

func (p *VariablePrinter) formatPrimitive(b *wir.Builder, buffer, size wir.Value, name string, t *symbols.TypeInfo, location MemoryLocation) (wir.Value, wir.Value, error) {
	primitive, ok := p.primitives[t.Name]
	if !ok {
		return wir.Value{}, wir.Value{}, fmt.Errorf("no formatter for type '%s'", location.TypeName)
	}
	slot, err := readVarValue(b, location, primitive.valueType)
	if err != nil {
		return wir.Value{}, wir.Value{}, err
	}
	varName := b.StringPtr(name)
	buffer, size = callFormatter(b, primitive.callee, buffer, size, slot, varName)
	return buffer, size, nil
}

func (p *VariablePrinter) formatArray(b *wir.Builder, buffer, size wir.Value, name string, elem *symbols.TypeInfo, location MemoryLocation, count uint64, incomplete bool) (wir.Value, wir.Value, error) {
	if incomplete {
		return wir.Value{}, wir.Value{}, fmt.Errorf("cannot print array of unknown size: '%s'", elem.Name)
	}
	if elem.ByteSize == 0 {
		return wir.Value{}, wir.Value{}, fmt.Errorf("cannot determine byte size of type '%s'", elem.Name)
	}

	typeName := b.StringPtr(elem.Name)
	varName := b.StringPtr(name)
	buffer, size = callFormatter(b, fnBeginArray, buffer, size, varName, typeName)

	// the element walk is unrolled, one formatter call per element
	element := location
	for i := uint64(0); i < count; i++ {
		if i > 0 {
			buffer, size = callFormatter(b, fnSep, buffer, size)
		}
		element.Offset = b.Add(location.Offset, b.ConstI32(uint32(i)*elem.ByteSize))
		var err error
		buffer, size, err = p.formatVariable(b, buffer, size, fmt.Sprintf("%s[%d]", name, i), elem, element)
		if err != nil {
			return wir.Value{}, wir.Value{}, err
		}
	}

	buffer, size = callFormatter(b, fnEndArray, buffer, size)
	return buffer, size, nil
}

func (p *VariablePrinter) formatAggregate(b *wir.Builder, buffer, size wir.Value, name string, t *symbols.TypeInfo, location MemoryLocation) (wir.Value, wir.Value, error) {
	typeName := b.StringPtr(t.Name)
	varName := b.StringPtr(name)
	buffer, size = callFormatter(b, fnBeginArray, buffer, size, varName, typeName)

	for i, field := range t.Fields {
		if i > 0 {
			buffer, size = callFormatter(b, fnSep, buffer, size)
		}
		if field.BitOffset%8 != 0 {
			return wir.Value{}, wir.Value{}, fmt.Errorf("field '%s' of '%s' is not byte-aligned", field.Name, t.Name)
		}
		child := location
		child.Offset = b.Add(location.Offset, b.ConstI32(uint32(field.BitOffset/8)))
		var err error
		buffer, size, err = p.formatVariable(b, buffer, size, field.Name, field.Type, child)
		if err != nil {
			return wir.Value{}, wir.Value{}, err
		}
	}

	buffer, size = callFormatter(b, fnEndArray, buffer, size)
	return buffer, size, nil
}
