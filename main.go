package main

import (
	"github.com/Manu343726/wasm-symbols/cmd"
)

func main() {
	cmd.Execute()
}
