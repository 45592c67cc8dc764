// Command cruxd is the demo binary for the crux module: a cobra-based
// CLI exposing "server" (spawn a hub, listen, echo parsed HTTP
// requests) and "resolve" (run the resolver standalone), grounded on
// the sibling fleet repo's subcommand-per-capability CLI layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalamay/crux/internal/logging"
)

var (
	logLevel string
	logJSON  bool
	cfgFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cruxd",
	Short: "cruxd is a demo server/client for the crux coroutine toolkit",
	Long: `cruxd exercises the crux hub end to end: "server" spawns a
hub that accepts connections and echoes parsed HTTP/1.x requests;
"resolve" runs the DNS resolver standalone against a name.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(resolveCmd)
}

func newLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.Level(logLevel)
	cfg.JSON = logJSON
	l := logging.NewLogger(cfg)
	logging.SetDefault(l)
	return l
}
