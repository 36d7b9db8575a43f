package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	symbolserver "github.com/Manu343726/wasm-symbols/pkg/server"
	"github.com/Manu343726/wasm-symbols/pkg/utils"
)

// Color definitions for inspection output
var (
	colorHeader = color.New(color.FgWhite, color.Bold, color.Underline)
	colorAddr   = color.New(color.FgCyan)
	colorFile   = color.New(color.FgHiBlue)
	colorName   = color.New(color.FgGreen)
	colorType   = color.New(color.FgYellow)
	colorError  = color.New(color.FgRed, color.Bold)
)

var (
	inspectOffset string
	inspectLine   string
	inspectVars   string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <module.wasm>",
	Short: "Run offline symbol queries against a module file",
	Long: `Loads a WebAssembly module with DWARF debug info and answers the same
queries the daemon serves, printed for humans. Without flags the module's
source files are listed.

Offsets are relative to the code section and accept 0x prefixes.

Examples:
  # List the source files a module was built from
  wasm-symbols server inspect hello.wasm

  # Source position(s) for a code offset
  wasm-symbols server inspect hello.wasm --offset 0x75

  # Code offsets for a source line (1-based)
  wasm-symbols server inspect hello.wasm --line hello.c:4

  # Variables in scope at a code offset
  wasm-symbols server inspect inline.wasm --vars 0xb9`,
	Args: cobra.ExactArgs(1),
	Run:  runInspect,
}

func init() {
	ServerCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectOffset, "offset", "", "Resolve a code offset to source positions")
	inspectCmd.Flags().StringVar(&inspectLine, "line", "", "Resolve file:line to code offsets")
	inspectCmd.Flags().StringVar(&inspectVars, "vars", "", "List variables in scope at a code offset")
}

func inspectFail(format string, args ...any) {
	colorError.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func parseOffset(text string) uint32 {
	offset, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		inspectFail("invalid code offset '%s': %v", text, err)
	}
	return uint32(offset)
}

func runInspect(cmd *cobra.Command, args []string) {
	path := args[0]

	cache := symbolserver.NewModuleCache()
	module, err := cache.GetModuleFromUrl(path, path)
	if err != nil {
		inspectFail("cannot load module '%s': %v", path, err)
	}
	if !module.Valid() {
		inspectFail("module '%s' has no debuggable compilation units", path)
	}

	switch {
	case inspectOffset != "":
		offset := parseOffset(inspectOffset)
		positions := module.SourceLocationFromOffset(offset)
		if len(positions) == 0 {
			fmt.Println("no source position found")
			return
		}
		for _, pos := range positions {
			fmt.Printf("%s -> %s:%s:%s\n",
				colorAddr.Sprintf("%#x", offset),
				colorFile.Sprint(pos.File),
				colorAddr.Sprint(pos.Line),
				colorAddr.Sprint(pos.Column))
		}

	case inspectLine != "":
		file, lineText, ok := strings.Cut(inspectLine, ":")
		if !ok {
			inspectFail("--line wants file:line, got '%s'", inspectLine)
		}
		line, err := strconv.Atoi(lineText)
		if err != nil {
			inspectFail("invalid line number '%s': %v", lineText, err)
		}
		offsets := module.OffsetFromSourceLocation(symbolserver.SourcePosition{File: file, Line: line})
		if len(offsets) == 0 {
			fmt.Println("no code offsets found")
			return
		}
		hex := utils.Map(offsets, func(offset uint32) string {
			return colorAddr.Sprintf("%#x", offset)
		})
		fmt.Printf("%s:%d -> %s\n", colorFile.Sprint(file), line, utils.FormatSlice(hex, " "))

	case inspectVars != "":
		offset := parseOffset(inspectVars)
		variables := module.VariablesInScope(offset)
		if len(variables) == 0 {
			fmt.Println("no variables in scope")
			return
		}
		colorHeader.Printf("variables in scope at %#x\n", offset)
		for _, v := range variables {
			fmt.Printf("  %s %s (%s)\n",
				colorName.Sprint(v.Name),
				colorType.Sprint(v.TypeName),
				v.Scope)
		}

	default:
		colorHeader.Printf("source files of %s\n", path)
		for _, source := range module.SourceScripts() {
			fmt.Printf("  %s\n", colorFile.Sprint(source))
		}
	}
}
