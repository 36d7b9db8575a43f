package server

// Per-module debugger queries
//
// WasmModule wraps the symbol information of one loaded module and
// answers the five debugger queries. Everything here works on 1-based
// source positions and module file addresses; the RPC layer owns the
// 0-based conversion, this layer owns the code-section rebasing.

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/Manu343726/wasm-symbols/pkg/formatter"
	"github.com/Manu343726/wasm-symbols/pkg/symbols"
	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// ErrVariableNotFound marks evaluateVariable requests naming an unknown
// variable
var ErrVariableNotFound = fmt.Errorf("variable not found")

// SourcePosition is a 1-based position in a source file
type SourcePosition struct {
	File   string
	Line   int
	Column int
}

// WasmModule is a loaded module with its symbol information
type WasmModule struct {
	// Id the module was registered under
	Id string

	sym      *symbols.Module
	tempPath string
}

// everyGlobal is the pattern listVariablesInScope appends globals with
var everyGlobal = regexp.MustCompile(".*")

// newModuleFromFile loads a module from a resolved local path
func newModuleFromFile(id, path string) (*WasmModule, error) {
	slog.Debug("loading module", "id", id, "path", path)
	sym, err := symbols.Open(path)
	if err != nil {
		return nil, err
	}
	return &WasmModule{Id: id, sym: sym}, nil
}

// newModuleFromCode materializes inline module bytes to a temporary file
// and loads from there; the temp file lives as long as the module
func newModuleFromCode(id string, code []byte) (*WasmModule, error) {
	tmp, err := os.CreateTemp("", "module-*.wasm")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file for module: %w", err)
	}
	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write temporary module: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write temporary module: %w", err)
	}
	slog.Debug("created temporary module", "path", tmp.Name())

	m, err := newModuleFromFile(id, tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	m.tempPath = tmp.Name()
	return m, nil
}

// dispose releases the module's backing temp file unless asked to keep it
func (m *WasmModule) dispose(keepTemp bool) {
	if m.tempPath == "" || keepTemp {
		return
	}
	if err := os.Remove(m.tempPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to delete temporary module", "path", m.tempPath, "error", err)
	}
	m.tempPath = ""
}

// Valid reports whether the module has at least one compilation unit
func (m *WasmModule) Valid() bool {
	return m.sym.Valid()
}

// SourceScripts returns the unique source paths across all compilation
// units, in CU order then in-CU order. Uniqueness is by directory and
// file name; nameless entries are skipped.
func (m *WasmModule) SourceScripts() []string {
	var sources []string
	seen := map[symbols.SupportFile]bool{}
	for _, cu := range m.sym.CompileUnits() {
		for _, f := range cu.SupportFiles() {
			if f.Name == "" || seen[f] {
				continue
			}
			seen[f] = true
			sources = append(sources, f.Path())
		}
	}
	return sources
}

// ContainsSourceScript reports whether any compilation unit references
// the source file
func (m *WasmModule) ContainsSourceScript(file string) bool {
	for _, cu := range m.sym.CompileUnits() {
		if cu.ContainsFile(file) {
			return true
		}
	}
	return false
}

// SourceLocationFromOffset resolves a code section offset through each
// unit's line table. Positions without a line and column are dropped.
func (m *WasmModule) SourceLocationFromOffset(offset uint32) []SourcePosition {
	address := uint64(offset) + m.sym.CodeSectionOffset()
	var positions []SourcePosition
	for _, cu := range m.sym.CompileUnits() {
		entry, ok := cu.FindLineEntry(address)
		if !ok {
			continue
		}
		if entry.Line > 0 && entry.Column > 0 {
			positions = append(positions, SourcePosition{
				File:   entry.File,
				Line:   entry.Line,
				Column: entry.Column,
			})
		}
	}
	return positions
}

// OffsetFromSourceLocation returns the code section offsets of every line
// table row matching the position's file and line. The column does not
// filter.
func (m *WasmModule) OffsetFromSourceLocation(pos SourcePosition) []uint32 {
	base := m.sym.CodeSectionOffset()
	var offsets []uint32
	for _, cu := range m.sym.CompileUnits() {
		for _, entry := range cu.EntriesForLine(pos.File, pos.Line) {
			slog.Debug("got location", "line", entry.Line, "column", entry.Column, "address", entry.Address)
			offsets = append(offsets, uint32(entry.Address-base))
		}
	}
	return offsets
}

// VariablesInScope lists the variables visible at a code section offset:
// the resolved block's variables, then every global
func (m *WasmModule) VariablesInScope(offset uint32) []*symbols.Variable {
	address := uint64(offset) + m.sym.CodeSectionOffset()
	visible := m.sym.VariablesAt(address)
	slog.Debug("variables in scope", "offset", offset, "count", len(visible))
	return symbols.AppendUnique(visible, m.sym.FindGlobals(everyGlobal, -1)...)
}

// VariableFormatScript generates the formatter module for a variable
// visible at the given code section offset
func (m *WasmModule) VariableFormatScript(name string, frameOffset uint32, printer *formatter.VariablePrinter) ([]byte, error) {
	address := uint64(frameOffset) + m.sym.CodeSectionOffset()
	variable := m.sym.FindVariable(address, name)
	if variable == nil {
		return nil, utils.MakeError(ErrVariableNotFound, "variable '%s' not found at offset %d", name, frameOffset)
	}

	module, err := printer.GenerateModule(name, variable)
	if err != nil {
		return nil, err
	}
	return printer.GenerateCode(module)
}
