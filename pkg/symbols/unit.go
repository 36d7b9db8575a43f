package symbols

import (
	"debug/dwarf"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// SupportFile is one source file referenced by a compilation unit's line
// program
type SupportFile struct {
	// Dir is the directory portion of the path (may be empty)
	Dir string
	// Name is the file name
	Name string
}

// Path returns the full path of the support file
func (f SupportFile) Path() string {
	if f.Dir == "" {
		return f.Name
	}
	return path.Join(f.Dir, f.Name)
}

// LineEntry is one row of a compilation unit's line table. Address is a
// module file address.
type LineEntry struct {
	Address uint64
	File    string
	Line    int
	Column  int
	// EndSequence marks the first address past a contiguous code range;
	// such rows carry no source position
	EndSequence bool
}

// CompileUnit is one DWARF compilation unit: its support files and its
// line table
type CompileUnit struct {
	// Name is the primary source file of the unit
	Name string

	module  *Module
	entry   *dwarf.Entry
	files   []SupportFile
	lines   []LineEntry
	globals []*Variable
}

// SupportFiles returns the unit's source files in line table order
func (cu *CompileUnit) SupportFiles() []SupportFile {
	return cu.files
}

// Globals returns the unit level variables
func (cu *CompileUnit) Globals() []*Variable {
	return cu.globals
}

// LineEntries returns the line table sorted by address
func (cu *CompileUnit) LineEntries() []LineEntry {
	return cu.lines
}

func (cu *CompileUnit) parseLineTable(data *dwarf.Data, base uint64) error {
	lr, err := data.LineReader(cu.entry)
	if err != nil {
		return utils.MakeError(ErrNoDebugInfo, "line table of unit '%s': %v", cu.Name, err)
	}
	if lr == nil {
		return nil
	}

	for _, f := range lr.Files() {
		if f == nil {
			// entry 0 is a placeholder before DWARF 5
			continue
		}
		dir, name := path.Split(f.Name)
		cu.files = append(cu.files, SupportFile{Dir: strings.TrimSuffix(dir, "/"), Name: name})
	}

	var entry dwarf.LineEntry
	for {
		err := lr.Next(&entry)
		if err == io.EOF {
			break
		}
		if err != nil {
			return utils.MakeError(ErrNoDebugInfo, "line table of unit '%s': %v", cu.Name, err)
		}
		le := LineEntry{
			Address:     entry.Address + base,
			Line:        entry.Line,
			Column:      entry.Column,
			EndSequence: entry.EndSequence,
		}
		if entry.File != nil {
			le.File = entry.File.Name
		}
		cu.lines = append(cu.lines, le)
	}
	sort.SliceStable(cu.lines, func(i, j int) bool {
		return cu.lines[i].Address < cu.lines[j].Address
	})
	return nil
}

// FindLineEntry returns the line table row covering the given module file
// address, if any. A row covers addresses from its own up to the next
// row's; end-of-sequence rows terminate coverage.
func (cu *CompileUnit) FindLineEntry(address uint64) (LineEntry, bool) {
	for i := 0; i+1 < len(cu.lines); i++ {
		le := cu.lines[i]
		if le.EndSequence {
			continue
		}
		if le.Address <= address && address < cu.lines[i+1].Address {
			return le, true
		}
	}
	return LineEntry{}, false
}

// EntriesForLine returns the rows matching a source file at an exact
// 1-based line. The file matches on full path, on a trailing path suffix
// or, when the query carries no directory, on file name.
func (cu *CompileUnit) EntriesForLine(file string, line int) []LineEntry {
	var matches []LineEntry
	for _, le := range cu.lines {
		if le.EndSequence || le.Line != line {
			continue
		}
		if matchesFile(le.File, file) {
			matches = append(matches, le)
		}
	}
	return matches
}

// ContainsFile reports whether the unit references the given source file
func (cu *CompileUnit) ContainsFile(file string) bool {
	for _, f := range cu.files {
		if matchesFile(f.Path(), file) {
			return true
		}
	}
	return false
}

// matchesFile compares a line table path against a query path. Queries
// without a directory component match on file name alone.
func matchesFile(candidate, query string) bool {
	if candidate == query {
		return true
	}
	if !strings.ContainsRune(query, '/') {
		return path.Base(candidate) == query
	}
	return strings.HasSuffix(candidate, "/"+query)
}
