package server

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	symbolserver "github.com/Manu343726/wasm-symbols/pkg/server"
)

var (
	serveSearchPaths     []string
	serveKeepTempModules bool
	serveLogFile         string
	serveLogLevel        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC symbol server on standard streams",
	Long: `Runs the symbol server daemon. Requests are read as line-framed JSON-RPC
from standard input and responses are written to standard output, so all
logging goes to standard error (and optionally to a log file).

The server keeps every registered module in memory until its id is
re-registered or the process exits. Modules referenced by URL are resolved
against the -I search paths; modules sent inline are materialized to
temporary files for the duration of their registration.

Examples:
  # Serve with two module search paths
  wasm-symbols server serve -I ./out -I /opt/app/wasm

  # Keep materialized temp modules around for postmortem inspection
  wasm-symbols server serve --keep-temp-modules

  # Mirror logs to a JSON file
  wasm-symbols server serve --log-file /tmp/wasm-symbols.log`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	ServerCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringArrayVarP(&serveSearchPaths, "include", "I", nil, "Add module search path")
	serveCmd.Flags().BoolVar(&serveKeepTempModules, "keep-temp-modules", false, "Do not delete temporary module files on release")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Also write JSON logs to this file")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func parseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level '%s': %w", name, err)
	}
	return level, nil
}

// setupLogging routes logs to stderr, fanned out to a JSON file when
// requested. Stdout stays reserved for the RPC stream.
func setupLogging() (func(), error) {
	level, err := parseLogLevel(serveLogLevel)
	if err != nil {
		return nil, err
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	cleanup := func() {}

	if serveLogFile != "" {
		file, err := os.OpenFile(serveLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
		cleanup = func() { file.Close() }
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
	return cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cleanup, err := setupLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	cache := symbolserver.NewModuleCache()
	for _, path := range serveSearchPaths {
		cache.AddModuleSearchPath(path)
	}
	// config file search paths apply after the command line ones
	for _, path := range viper.GetStringSlice("search_paths") {
		cache.AddModuleSearchPath(path)
	}
	if viper.GetBool("keep_temp_modules") {
		serveKeepTempModules = true
	}
	cache.SetKeepTemporaries(serveKeepTempModules)

	return symbolserver.NewServer(cache).Run(os.Stdin, os.Stdout)
}
