package server

import (
	"github.com/spf13/cobra"
)

// ServerCmd groups the symbol server commands
var ServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Symbol server daemon and module inspection tools",
}
