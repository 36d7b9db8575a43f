package formatter

// Code generation
//
// Turns a synthesized printer module into a standalone .wasm binary:
// link against the runtime formatters, run the size pipeline, encode, and
// round-trip the result through a temporary file that is always removed
// before returning. The runtime module is rebuilt per generation; the
// printer itself is the long-lived object.

import (
	"fmt"
	"os"

	"github.com/Manu343726/wasm-symbols/pkg/utils"
	"github.com/Manu343726/wasm-symbols/pkg/wir"
)

// ErrCodegen is the sentinel for formatter generation failures
var ErrCodegen = fmt.Errorf("formatter generation failed")

// GenerateCode links the module with the formatting runtime and returns
// the bytes of the final WebAssembly binary
func (p *VariablePrinter) GenerateCode(m *wir.Module) ([]byte, error) {
	linked, err := wir.Link("wasm_formatter", m, BuildRuntimeModule())
	if err != nil {
		return nil, utils.MakeError(ErrCodegen, "%v", err)
	}

	wir.Optimize(linked)

	code, err := wir.Encode(linked)
	if err != nil {
		return nil, utils.MakeError(ErrCodegen, "%v", err)
	}

	// materialize through a temp file, as debugger tooling that inspects
	// the artifact expects it on disk during generation
	tmp, err := os.CreateTemp("", "wasm_formatter-*.wasm")
	if err != nil {
		return nil, utils.MakeError(ErrCodegen, "cannot create temporary module file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(code); err != nil {
		tmp.Close()
		return nil, utils.MakeError(ErrCodegen, "cannot write temporary module file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, utils.MakeError(ErrCodegen, "cannot write temporary module file: %v", err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, utils.MakeError(ErrCodegen, "cannot read temporary module file: %v", err)
	}
	return data, nil
}
