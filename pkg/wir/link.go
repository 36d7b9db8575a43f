package wir

import (
	"fmt"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// Link merges modules into one. Function and data symbol names must be
// unique across all inputs (data symbols are namespaced by module name, so
// in practice only function collisions can happen). Calls that stay
// unresolved after the merge become env imports during encoding.
func Link(name string, mods ...*Module) (*Module, error) {
	merged := NewModule(name)
	for _, m := range mods {
		for _, f := range m.funcs {
			if _, exists := merged.funcIndex[f.Name]; exists {
				return nil, utils.MakeError(ErrLink, "function '%s' defined in more than one module", f.Name)
			}
			f.mod = merged
			merged.funcs = append(merged.funcs, f)
			merged.funcIndex[f.Name] = f
		}
		for _, s := range m.symbols {
			if _, exists := merged.symIndex[s.Name]; exists {
				return nil, utils.MakeError(ErrLink, "data symbol '%s' defined in more than one module", s.Name)
			}
			merged.symbols = append(merged.symbols, s)
			merged.symIndex[s.Name] = s
		}
	}
	return merged, nil
}

// ErrLink is the sentinel for module linking failures
var ErrLink = fmt.Errorf("wasm link error")
