package symbols

// DWARF Symbol Extraction for WebAssembly Modules
//
// A Module combines the wasm container layout with the DWARF data carried
// in its .debug_* custom sections. The debug information is parsed eagerly
// on load into:
//
//   - Compilation units with their support files and line tables
//   - Functions with their lexical block tree and frame base expressions
//   - Variables (parameters, locals, globals) with their DWARF location
//     expressions and resolved type information
//
// Addresses stored here are module file addresses: the raw DWARF code
// addresses (relative to the code section) plus the code section offset.
// Callers doing debugger queries work with code section relative offsets
// and convert at their boundary.

import (
	"debug/dwarf"
	"fmt"
	"io"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// ErrNoDebugInfo is returned when a module has no usable DWARF sections
var ErrNoDebugInfo = fmt.Errorf("module carries no DWARF debug info")

// Module is the symbol information of one wasm module
type Module struct {
	// File is the parsed container
	File *WasmFile

	data  *dwarf.Data
	units []*CompileUnit
	funcs []*Function
	// globals are the CU-level variables of every unit, in DIE order
	globals []*Variable

	types *typeTable
}

// Open loads a wasm module file and parses its debug information
func Open(path string) (*Module, error) {
	wf, err := LoadWasm(path)
	if err != nil {
		return nil, err
	}
	return NewModule(wf)
}

// NewModule parses the debug information of an already loaded container
func NewModule(wf *WasmFile) (*Module, error) {
	m := &Module{File: wf}
	if !wf.HasDebugInfo() {
		// still a loadable module, just not debuggable
		return m, nil
	}

	data, err := buildDwarf(wf)
	if err != nil {
		return nil, err
	}
	m.data = data
	m.types = newTypeTable(data)

	if err := m.parseUnits(); err != nil {
		return nil, err
	}
	return m, nil
}

// buildDwarf assembles a dwarf.Data from the .debug_* custom sections
func buildDwarf(wf *WasmFile) (*dwarf.Data, error) {
	section := func(name string) []byte { return wf.CustomSection(name) }

	data, err := dwarf.New(
		section(".debug_abbrev"),
		section(".debug_aranges"),
		nil, // .debug_frame is not needed for symbol queries
		section(".debug_info"),
		section(".debug_line"),
		section(".debug_pubnames"),
		section(".debug_ranges"),
		section(".debug_str"),
	)
	if err != nil {
		return nil, utils.MakeError(ErrNoDebugInfo, "%v", err)
	}

	// DWARF 5 sections are attached separately
	for _, name := range []string{".debug_addr", ".debug_line_str", ".debug_str_offsets", ".debug_rnglists"} {
		if contents := section(name); contents != nil {
			if err := data.AddSection(name, contents); err != nil {
				return nil, utils.MakeError(ErrNoDebugInfo, "%v", err)
			}
		}
	}
	return data, nil
}

// Valid reports whether the module parsed and has at least one compilation
// unit to answer queries from
func (m *Module) Valid() bool {
	return m != nil && len(m.units) > 0
}

// CodeSectionOffset returns the file offset DWARF code addresses are
// relative to
func (m *Module) CodeSectionOffset() uint64 {
	return m.File.CodeSectionOffset()
}

// CompileUnits returns the module's compilation units in DWARF order
func (m *Module) CompileUnits() []*CompileUnit {
	return m.units
}

// Functions returns every function that declared a code range
func (m *Module) Functions() []*Function {
	return m.funcs
}

// Globals returns the compilation unit level variables of all units
func (m *Module) Globals() []*Variable {
	return m.globals
}

// parseUnits walks the DWARF tree once, building compilation units, the
// function/block scope trees and the variable lists
func (m *Module) parseUnits() error {
	reader := m.data.Reader()
	base := m.File.CodeSectionOffset()

	var cu *CompileUnit

	// stack of open scopes. Every DIE with children pushes exactly one
	// entry so that the end-of-children markers pair up; DIEs that are
	// not functions or blocks push their parent's scope unchanged.
	type scope struct {
		fn    *Function
		block *Block
	}
	var stack []scope
	top := func() scope {
		if len(stack) == 0 {
			return scope{}
		}
		return stack[len(stack)-1]
	}

	for {
		entry, err := reader.Next()
		if err != nil {
			return utils.MakeError(ErrNoDebugInfo, "%v", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		pushed := false
		switch entry.Tag {
		case dwarf.TagCompileUnit:
			cu = &CompileUnit{module: m, entry: entry}
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				cu.Name = name
			}
			if err := cu.parseLineTable(m.data, base); err != nil {
				return err
			}
			m.units = append(m.units, cu)
			// compilation units do not participate in the scope stack;
			// their terminator arrives with the stack drained
			stack = stack[:0]
			pushed = true

		case dwarf.TagSubprogram:
			fn := m.parseFunction(entry, base)
			if len(fn.Ranges) > 0 {
				m.funcs = append(m.funcs, fn)
			}
			if entry.Children {
				stack = append(stack, scope{fn: fn, block: fn.scopeBlock()})
				pushed = true
			}

		case dwarf.TagLexDwarfBlock, dwarf.TagInlinedSubroutine:
			parent := top()
			if parent.fn != nil {
				block := &Block{parent: parent.block}
				block.Ranges = m.entryRanges(entry, base)
				if parent.block != nil {
					parent.block.Children = append(parent.block.Children, block)
				}
				if entry.Children {
					stack = append(stack, scope{fn: parent.fn, block: block})
					pushed = true
				}
			}

		case dwarf.TagVariable, dwarf.TagFormalParameter:
			v := m.parseVariable(entry)
			if v == nil {
				break
			}
			enclosing := top()
			if enclosing.fn == nil {
				v.Scope = ScopeGlobal
				m.globals = append(m.globals, v)
				if cu != nil {
					cu.globals = append(cu.globals, v)
				}
				break
			}
			v.Fn = enclosing.fn
			if entry.Tag == dwarf.TagFormalParameter {
				v.Scope = ScopeParameter
			} else {
				v.Scope = ScopeLocal
			}
			if enclosing.block != nil {
				enclosing.block.Vars = append(enclosing.block.Vars, v)
			}
		}

		if entry.Children && !pushed {
			// transparent scope: namespaces, type definitions, and the
			// rare variable with children
			stack = append(stack, top())
		}
	}
	return nil
}

// entryRanges resolves the code ranges of a DIE and rebases them onto
// module file addresses
func (m *Module) entryRanges(entry *dwarf.Entry, base uint64) [][2]uint64 {
	ranges, err := m.data.Ranges(entry)
	if err != nil || len(ranges) == 0 {
		return nil
	}
	for i := range ranges {
		ranges[i][0] += base
		ranges[i][1] += base
	}
	return ranges
}

func (m *Module) parseFunction(entry *dwarf.Entry, base uint64) *Function {
	fn := &Function{}
	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		fn.Name = name
	}
	fn.Ranges = m.entryRanges(entry, base)
	if frameBase, ok := entry.Val(dwarf.AttrFrameBase).([]byte); ok {
		fn.FrameBase = frameBase
	}
	return fn
}

// parseVariable builds a Variable from a DIE, following abstract origins
// for the inlined instances that split name and location across two DIEs
func (m *Module) parseVariable(entry *dwarf.Entry) *Variable {
	v := &Variable{}

	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		v.Name = name
	}
	typeOff, hasType := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if loc, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		v.Location = loc
	}

	if v.Name == "" || !hasType {
		if origin, ok := entry.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
			abstract, err := m.entryAt(origin)
			if err == nil {
				if v.Name == "" {
					v.Name, _ = abstract.Val(dwarf.AttrName).(string)
				}
				if !hasType {
					typeOff, hasType = abstract.Val(dwarf.AttrType).(dwarf.Offset)
				}
			}
		}
	}
	if v.Name == "" {
		return nil
	}

	if hasType {
		if t, err := m.types.resolve(typeOff); err == nil {
			v.Type = t
			v.TypeName = t.Name
		}
	}
	return v
}

func (m *Module) entryAt(offset dwarf.Offset) (*dwarf.Entry, error) {
	reader := m.data.Reader()
	reader.Seek(offset)
	entry, err := reader.Next()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, io.EOF
	}
	return entry, nil
}
